package workflow

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anvilworks/anvil/internal/core/models"
)

// call records one gateway invocation.
type call struct {
	op      string
	org     string
	name    string
	version string
	owner   string
	replace bool
}

// fakeGateway answers each operation with a configured response or error
// and records every call in order.
type fakeGateway struct {
	calls     []call
	responses map[string]*models.RemoteResponse
	errs      map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: map[string]*models.RemoteResponse{},
		errs:      map[string]error{},
	}
}

func (f *fakeGateway) set(op string, status int, body string) {
	f.responses[op] = &models.RemoteResponse{StatusCode: status, Body: []byte(body)}
}

func (f *fakeGateway) fail(op string, err error) {
	f.errs[op] = err
}

func (f *fakeGateway) respond(op string) (*models.RemoteResponse, error) {
	if err := f.errs[op]; err != nil {
		return nil, err
	}
	if r := f.responses[op]; r != nil {
		return r, nil
	}
	return &models.RemoteResponse{StatusCode: http.StatusOK}, nil
}

func (f *fakeGateway) ops() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeGateway) PublishRelease(_ context.Context, org, name, version string, _ *models.ArchiveArtifact, replace bool) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "publishRelease", org: org, name: name, version: version, replace: replace})
	return f.respond("publishRelease")
}

func (f *fakeGateway) DeleteRelease(_ context.Context, org, name, version string) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "deleteRelease", org: org, name: name, version: version})
	return f.respond("deleteRelease")
}

func (f *fakeGateway) PublishDocs(_ context.Context, org, name, version string, _ *models.ArchiveArtifact) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "publishDocs", org: org, name: name, version: version})
	return f.respond("publishDocs")
}

func (f *fakeGateway) DeleteDocs(_ context.Context, org, name, version string) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "deleteDocs", org: org, name: name, version: version})
	return f.respond("deleteDocs")
}

func (f *fakeGateway) AddOwner(_ context.Context, org, name, owner, _ string, _ bool) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "addOwner", org: org, name: name, owner: owner})
	return f.respond("addOwner")
}

func (f *fakeGateway) GetPackage(_ context.Context, org, name string) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "getPackage", org: org, name: name})
	return f.respond("getPackage")
}

func (f *fakeGateway) UserOrganizations(_ context.Context) (*models.RemoteResponse, error) {
	f.calls = append(f.calls, call{op: "userOrganizations"})
	return f.respond("userOrganizations")
}

// scriptedPrompter pops one scripted answer per question.
type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) next() (string, error) {
	if len(p.answers) == 0 {
		return "", fmt.Errorf("prompter: no scripted answer left")
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func (p *scriptedPrompter) Ask(prompt string) (string, error) {
	p.asked = append(p.asked, prompt)
	return p.next()
}

func (p *scriptedPrompter) Confirm(prompt string) (bool, error) {
	p.asked = append(p.asked, prompt)
	answer, err := p.next()
	if err != nil {
		return false, err
	}
	return answer == "y", nil
}
