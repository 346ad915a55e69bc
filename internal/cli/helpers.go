package cli

import (
	"errors"
	"fmt"
	"strings"
)

const (
	JobKind    = "job"
	OutputKind = "output"
)

var (
	pluralKinds = map[string]string{
		JobKind:    "jobs",
		OutputKind: "outputs",
	}

	errMissingUser = errors.New("a user is required, pass --user or set RYTHMIQ_USER")
)

func parseAndValidateKindId(arg string) (string, string, error) {
	kind, id, _ := strings.Cut(arg, "/")
	kind = singular(kind)
	if _, ok := pluralKinds[kind]; !ok {
		return "", "", fmt.Errorf("invalid resource kind: %s", kind)
	}
	if kind == OutputKind && id == "" {
		return "", "", fmt.Errorf("%s requires a job id", kind)
	}
	return kind, id, nil
}

func singular(kind string) string {
	for singular, plural := range pluralKinds {
		if kind == plural {
			return singular
		}
	}
	return kind
}

func plural(kind string) string {
	return pluralKinds[kind]
}
