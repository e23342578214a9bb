package handler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jun/gdrivebot/internal/binding"
	"github.com/jun/gdrivebot/internal/export"
	"github.com/jun/gdrivebot/internal/model"
)

type fakeAuthorizer struct {
	cfg       *model.DriveExportConfig
	err       error
	gotCode   string
	gotState  string
	callCount int
}

func (f *fakeAuthorizer) CompleteAuthorization(_ context.Context, code, state string) (*model.DriveExportConfig, error) {
	f.callCount++
	f.gotCode, f.gotState = code, state
	return f.cfg, f.err
}

type call struct {
	name      string
	groupID   string
	requester string
	code      string
}

type fakeCommands struct {
	calls  []call
	bindFn func() (*model.BindCode, error)
	link   string
	status binding.Status
	err    error
}

func (f *fakeCommands) RequestBind(_ context.Context, groupID, requester string) (*model.BindCode, error) {
	f.calls = append(f.calls, call{name: "bind", groupID: groupID, requester: requester})
	if f.bindFn != nil {
		return f.bindFn()
	}
	return nil, f.err
}

func (f *fakeCommands) Link(_ context.Context, code, requester string) (string, error) {
	f.calls = append(f.calls, call{name: "link", code: code, requester: requester})
	return f.link, f.err
}

func (f *fakeCommands) Status(_ context.Context, groupID string) (binding.Status, error) {
	f.calls = append(f.calls, call{name: "status", groupID: groupID})
	return f.status, f.err
}

func (f *fakeCommands) Disable(_ context.Context, groupID, requester string) error {
	f.calls = append(f.calls, call{name: "off", groupID: groupID, requester: requester})
	return f.err
}

type fakeDispatcher struct {
	jobs []export.UploadJob
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, job export.UploadJob) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

type sent struct {
	chatID string
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeMessenger) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeMessenger) OpenFile(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("not implemented")
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
