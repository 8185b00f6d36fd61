package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/archive"
	"github.com/anvilworks/anvil/internal/core/models"
)

// packageDir lays out a package root with a valid docs tree unless docs
// is nil.
func packageDir(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range docs {
		path := filepath.Join(dir, "doc", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func validDocs() map[string]string {
	return map[string]string{"index.html": "<html>"}
}

func newTestPublisher(gw *fakeGateway, prompt *scriptedPrompter, out *bytes.Buffer) *Publisher {
	return NewPublisher(gw, prompt, out, zerolog.Nop(), "public")
}

func TestPublishHappyPathOrder(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, "[]")
	gw.set("publishRelease", 201, "")
	gw.set("publishDocs", 201, "")
	prompt := &scriptedPrompter{answers: []string{"y"}}
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	want := []string{"getPackage", "userOrganizations", "publishRelease", "publishDocs"}
	got := gw.ops()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestPublishReleaseFailureSuppressesDocsAndTransfer(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, orgListBody)
	gw.set("publishRelease", 422, `{"message":"version already published"}`)
	prompt := &scriptedPrompter{answers: []string{"2"}}
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{})

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.StatusCode != 422 {
		t.Errorf("status = %d, want 422", remote.StatusCode)
	}
	if !strings.Contains(remote.Detail, "version already published") {
		t.Errorf("detail = %q, want server message", remote.Detail)
	}
	for _, c := range gw.calls {
		if c.op == "publishDocs" || c.op == "addOwner" {
			t.Errorf("%s must not run after a failed release publish", c.op)
		}
	}
}

func TestPublishDryRunSkipsRemoteMutations(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, orgListBody)
	prompt := &scriptedPrompter{answers: []string{"2"}}
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{DryRun: true})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range gw.calls {
		switch c.op {
		case "publishRelease", "publishDocs", "addOwner":
			t.Errorf("dry run issued mutating call %s", c.op)
		}
	}
	if !strings.Contains(out.String(), "sha256") {
		t.Errorf("dry run must still display the release checksum:\n%s", out.String())
	}
}

func TestPublishTransfersOwnershipToSelectedOrganization(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, orgListBody)
	gw.set("publishRelease", 201, "")
	gw.set("publishDocs", 201, "")
	gw.set("addOwner", 204, "")
	prompt := &scriptedPrompter{answers: []string{"2"}}
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	last := gw.calls[len(gw.calls)-1]
	if last.op != "addOwner" {
		t.Fatalf("last call = %s, want addOwner", last.op)
	}
	if last.owner != "acme" {
		t.Errorf("owner = %q, want acme", last.owner)
	}
}

func TestPublishSelfOwnershipSkipsTransfer(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, orgListBody)
	gw.set("publishRelease", 201, "")
	gw.set("publishDocs", 201, "")
	prompt := &scriptedPrompter{answers: []string{"1"}}
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, c := range gw.calls {
		if c.op == "addOwner" {
			t.Error("self ownership must not call addOwner")
		}
	}
}

func TestPublishTransferFailureIsReportedNotRolledBack(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, orgListBody)
	gw.set("publishRelease", 201, "")
	gw.set("publishDocs", 201, "")
	gw.set("addOwner", 403, `{"message":"insufficient permissions"}`)
	prompt := &scriptedPrompter{answers: []string{"2"}}
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{})

	var transfer *OwnershipTransferError
	if !errors.As(err, &transfer) {
		t.Fatalf("err = %v, want OwnershipTransferError", err)
	}
	if transfer.Organization != "acme" {
		t.Errorf("organization = %q, want acme", transfer.Organization)
	}
	if !strings.Contains(out.String(), "is live") {
		t.Errorf("user must be told the package is live:\n%s", out.String())
	}
	for _, c := range gw.calls {
		if c.op == "deleteRelease" {
			t.Error("no rollback may be attempted")
		}
	}
}

func TestPublishInvalidDocsTreeIssuesNoNetworkCalls(t *testing.T) {
	gw := newFakeGateway()
	prompt := &scriptedPrompter{}
	var out bytes.Buffer

	dir := packageDir(t, map[string]string{
		"index.html":       "<html>",
		"1.0.0/index.html": "<html>",
	})
	err := newTestPublisher(gw, prompt, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{AutoConfirm: true})

	var invalid *archive.InvalidDocsTreeError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidDocsTreeError", err)
	}
	if len(gw.calls) != 0 {
		t.Errorf("expected zero network calls, got %v", gw.ops())
	}
}

func TestPublishMissingDocsDirFailsBeforeNetwork(t *testing.T) {
	gw := newFakeGateway()
	var out bytes.Buffer

	err := newTestPublisher(gw, &scriptedPrompter{}, &out).Publish(context.Background(), testMeta(), t.TempDir(), models.PublishIntent{AutoConfirm: true})
	if err == nil {
		t.Fatal("expected error for missing docs directory")
	}
	if len(gw.calls) != 0 {
		t.Errorf("expected zero network calls, got %v", gw.ops())
	}
}

func TestPublishReleaseOnlyIgnoresDocs(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 404, "")
	gw.set("userOrganizations", 200, "[]")
	gw.set("publishRelease", 201, "")
	var out bytes.Buffer

	// No docs directory at all: the release-only target must not care.
	err := newTestPublisher(gw, &scriptedPrompter{}, &out).Publish(context.Background(), testMeta(), t.TempDir(), models.PublishIntent{Target: models.TargetRelease, AutoConfirm: true})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, c := range gw.calls {
		if c.op == "publishDocs" {
			t.Error("release-only publish must not upload docs")
		}
	}
}

func TestPublishDocsOnlySkipsNegotiationAndRelease(t *testing.T) {
	gw := newFakeGateway()
	gw.set("publishDocs", 201, "")
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, &scriptedPrompter{}, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{Target: models.TargetDocs})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := gw.ops()
	if len(got) != 1 || got[0] != "publishDocs" {
		t.Fatalf("calls = %v, want [publishDocs]", got)
	}
}

func TestPublishDocsNotFoundExplained(t *testing.T) {
	gw := newFakeGateway()
	gw.set("publishDocs", 404, "")
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, &scriptedPrompter{}, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{Target: models.TargetDocs})

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if !strings.Contains(remote.Detail, "not published") {
		t.Errorf("detail = %q, want a not-published-yet explanation", remote.Detail)
	}
}

func TestPublishReplaceForwardedOnReleaseOnly(t *testing.T) {
	gw := newFakeGateway()
	gw.set("getPackage", 200, `{"name":"mylib"}`)
	gw.set("publishRelease", 201, "")
	gw.set("publishDocs", 201, "")
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, &scriptedPrompter{}, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{Replace: true, AutoConfirm: true})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range gw.calls {
		if c.op == "publishRelease" && !c.replace {
			t.Error("replace flag not forwarded to the release publish")
		}
	}
}

func TestPublishOrganizationScope(t *testing.T) {
	gw := newFakeGateway()
	gw.set("publishRelease", 201, "")
	gw.set("publishDocs", 201, "")
	gw.set("addOwner", 204, "")
	var out bytes.Buffer

	dir := packageDir(t, validDocs())
	err := newTestPublisher(gw, &scriptedPrompter{}, &out).Publish(context.Background(), testMeta(), dir, models.PublishIntent{Organization: "acme", AutoConfirm: true})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range gw.calls {
		if c.op == "publishRelease" && c.org != "acme" {
			t.Errorf("release published to scope %q, want acme", c.org)
		}
	}
}
