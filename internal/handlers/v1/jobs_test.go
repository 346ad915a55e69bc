package v1_test

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func createForm(requestID string) map[string]string {
	return map[string]string{
		"blob_id":           "blob-1",
		"client_request_id": requestID,
		"schema_id":         "invoice",
		"schema_version":    "1.0",
	}
}

var _ = Describe("job handler", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	Context("create", func() {
		It("creates a queued job", func() {
			rr := h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1"))
			Expect(rr.Code).To(Equal(http.StatusCreated))

			body := decode(rr)
			Expect(body["is_new_job"]).To(BeTrue())
			Expect(body["job_id"]).NotTo(BeEmpty())

			rr = h.do(http.MethodGet, "/api/v1/jobs/"+body["job_id"].(string), "alice", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(decode(rr)["state"]).To(Equal("QUEUED"))
		})

		It("returns the existing job for a repeated request", func() {
			first := decode(h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1")))

			rr := h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1"))
			Expect(rr.Code).To(Equal(http.StatusOK))
			second := decode(rr)
			Expect(second["is_new_job"]).To(BeFalse())
			Expect(second["job_id"]).To(Equal(first["job_id"]))
		})

		It("rejects a request without a user", func() {
			rr := h.do(http.MethodPost, "/api/v1/jobs", "", createForm("req-1"))
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			Expect(decode(rr)["error_code"]).To(Equal("UNAUTHORIZED"))
		})

		It("rejects an invalid body", func() {
			form := createForm("not a valid id!")
			delete(form, "blob_id")

			rr := h.do(http.MethodPost, "/api/v1/jobs", "alice", form)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			body := decode(rr)
			Expect(body["error_code"]).To(Equal("INVALID_INPUT"))
			Expect(body["message"]).To(ContainSubstring("blob_id is required"))
			Expect(body["message"]).To(ContainSubstring("client_request_id"))
			Expect(body["retryable"]).To(BeFalse())
		})
	})

	Context("read", func() {
		It("hides jobs of other users", func() {
			id := decode(h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1")))["job_id"].(string)

			rr := h.do(http.MethodGet, "/api/v1/jobs/"+id, "bob", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rr)["error_code"]).To(Equal("NOT_FOUND"))
		})

		It("lists the jobs of the caller", func() {
			h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1"))
			h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-2"))
			h.do(http.MethodPost, "/api/v1/jobs", "bob", createForm("req-1"))

			rr := h.do(http.MethodGet, "/api/v1/jobs", "alice", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			var list []map[string]any
			Expect(json.Unmarshal(rr.Body.Bytes(), &list)).To(Succeed())
			Expect(list).To(HaveLen(2))
		})
	})

	Context("output", func() {
		It("refuses the output of an unfinished job", func() {
			id := decode(h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1")))["job_id"].(string)

			rr := h.do(http.MethodGet, "/api/v1/jobs/"+id+"/output", "alice", nil)
			Expect(rr.Code).To(Equal(http.StatusConflict))
			Expect(decode(rr)["error_code"]).To(Equal("JOB_NOT_COMPLETE"))
		})

		It("returns the output of a succeeded job", func() {
			id := decode(h.do(http.MethodPost, "/api/v1/jobs", "alice", createForm("req-1")))["job_id"].(string)
			ctx := context.TODO()
			_, err := h.scheduler.Claim(ctx)
			Expect(err).To(BeNil())
			Expect(h.scheduler.Complete(ctx, id, &pipeline.Result{
				OCRArtifactID:    "ocr-1",
				SchemaArtifactID: "schema-1",
				SchemaOutput:     map[string]any{"total": "12.50"},
				QualityScore:     0.9,
			})).To(Succeed())

			rr := h.do(http.MethodGet, "/api/v1/jobs/"+id+"/output", "alice", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			body := decode(rr)
			Expect(body["job_id"]).To(Equal(id))
			Expect(body["ocr_artifact_id"]).To(Equal("ocr-1"))
			Expect(body["quality_score"]).To(BeNumerically("~", 0.9))
			Expect(body["schema_output"]).To(HaveKeyWithValue("total", "12.50"))
		})
	})
})
