package job_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/xraph/jobq/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegisterDefinition_DecodesPayload(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("email:send", func(_ context.Context, p emailPayload) error {
		got = p
		return nil
	})
	job.RegisterDefinition(r, def)

	h, ok := r.Get("email:send")
	if !ok {
		t.Fatal("handler not registered")
	}

	payload := []byte(`{"to":"ops@example.com","subject":"hi"}`)
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.To != "ops@example.com" || got.Subject != "hi" {
		t.Fatalf("decoded payload = %+v", got)
	}
}

func TestRegisterDefinition_EmptyPayload(t *testing.T) {
	r := job.NewRegistry()

	called := false
	job.RegisterDefinition(r, job.NewDefinition("noop", func(_ context.Context, _ struct{}) error {
		called = true
		return nil
	}))

	h, _ := r.Get("noop")
	if err := h(context.Background(), nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Fatal("handler not called for empty payload")
	}
}

func TestRegisterDefinition_BadPayload(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("email:send", func(_ context.Context, _ emailPayload) error {
		t.Fatal("handler must not run on undecodable payload")
		return nil
	}))

	h, _ := r.Get("email:send")
	if err := h(context.Background(), []byte(`{not json`)); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestRegisterFunc_RawHandler(t *testing.T) {
	r := job.NewRegistry()

	wantErr := errors.New("boom")
	r.RegisterFunc("raw", func(_ context.Context, payload []byte) error {
		if string(payload) != "opaque-bytes" {
			t.Fatalf("payload = %q", payload)
		}
		return wantErr
	})

	h, ok := r.Get("raw")
	if !ok {
		t.Fatal("raw handler not registered")
	}
	if err := h(context.Background(), []byte("opaque-bytes")); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Fatal("unknown type must not resolve")
	}
}

func TestRegistry_Types(t *testing.T) {
	r := job.NewRegistry()
	r.RegisterFunc("b", func(context.Context, []byte) error { return nil })
	r.RegisterFunc("a", func(context.Context, []byte) error { return nil })

	types := r.Types()
	sort.Strings(types)
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Fatalf("Types() = %v", types)
	}
}

func TestRegistry_Options(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("typed", func(context.Context, struct{}) error { return nil },
		job.WithMaxRetries(7),
		job.WithLeaseDuration(2*time.Minute),
	))
	r.RegisterFunc("raw", func(context.Context, []byte) error { return nil },
		job.WithDelay(10*time.Second),
	)

	typed, ok := r.Options("typed")
	if !ok {
		t.Fatal("typed options not found")
	}
	if typed.MaxRetries != 7 || typed.LeaseDuration != 2*time.Minute {
		t.Fatalf("typed opts = %+v", typed)
	}

	raw, ok := r.Options("raw")
	if !ok {
		t.Fatal("raw options not found")
	}
	if raw.Delay != 10*time.Second {
		t.Fatalf("raw delay = %v", raw.Delay)
	}
	if raw.MaxRetries != job.DefaultOptions().MaxRetries {
		t.Fatalf("raw max retries = %d, want defaults applied", raw.MaxRetries)
	}

	if _, ok := r.Options("unknown"); ok {
		t.Fatal("unknown type must not resolve options")
	}
}

func TestNewDefinition_Options(t *testing.T) {
	def := job.NewDefinition("x", func(context.Context, struct{}) error { return nil },
		job.WithMaxRetries(7),
	)
	if def.Opts.MaxRetries != 7 {
		t.Fatalf("MaxRetries = %d, want 7", def.Opts.MaxRetries)
	}

	defaulted := job.NewDefinition("y", func(context.Context, struct{}) error { return nil })
	if defaulted.Opts.MaxRetries != job.DefaultOptions().MaxRetries {
		t.Fatal("defaults not applied")
	}
}
