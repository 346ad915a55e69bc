package events

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("buffer", func() {
	It("keeps messages in arrival order", func() {
		b := newBuffer(0)

		for _, d := range []string{"msg1", "msg2", "msg3"} {
			Expect(b.PushBack(&message{Kind: KindJobCreated, Data: []byte(d)})).To(Succeed())
		}
		Expect(b.Size()).To(Equal(3))
		Expect(b.head.Data).To(Equal([]byte("msg1")))
		Expect(b.tail.Data).To(Equal([]byte("msg3")))

		m := b.Pop()
		Expect(m.Data).To(Equal([]byte("msg1")))
		Expect(b.Size()).To(Equal(2))

		m = b.Pop()
		Expect(m.Data).To(Equal([]byte("msg2")))

		m = b.Pop()
		Expect(m.Data).To(Equal([]byte("msg3")))
		Expect(b.Size()).To(Equal(0))
		Expect(b.head).To(BeNil())
		Expect(b.tail).To(BeNil())

		Expect(b.Pop()).To(BeNil())
	})

	It("refuses messages beyond its capacity", func() {
		b := newBuffer(2)

		Expect(b.PushBack(&message{Kind: KindJobStarted})).To(Succeed())
		Expect(b.PushBack(&message{Kind: KindJobStarted})).To(Succeed())
		Expect(b.PushBack(&message{Kind: KindJobStarted})).To(MatchError(errBufferFull))
		Expect(b.Size()).To(Equal(2))

		b.Pop()
		Expect(b.PushBack(&message{Kind: KindJobStarted})).To(Succeed())
	})
})
