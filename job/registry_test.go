package job_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stagepass/workq/job"
)

type greetPayload struct {
	Name string `json:"name"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("greet",
		func(_ context.Context, p greetPayload) (any, error) {
			return "hello " + p.Name, nil
		},
	))

	if !reg.Has("greet") {
		t.Fatal("Has(greet) = false after registration")
	}

	handler, ok := reg.Get("greet")
	if !ok {
		t.Fatal("Get(greet) not found")
	}

	payload, _ := json.Marshal(greetPayload{Name: "Ada"})
	result, err := handler(context.Background(), payload)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result != "hello Ada" {
		t.Errorf("result = %v, want %q", result, "hello Ada")
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := job.NewRegistry()

	if reg.Has("nope") {
		t.Error("Has(nope) = true on empty registry")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get(nope) found on empty registry")
	}
}

func TestRegistry_ReregisterOverwrites(t *testing.T) {
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("swap",
		func(_ context.Context, _ struct{}) (any, error) { return "first", nil },
	))
	job.RegisterDefinition(reg, job.NewDefinition("swap",
		func(_ context.Context, _ struct{}) (any, error) { return "second", nil },
	))

	handler, _ := reg.Get("swap")
	result, err := handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result != "second" {
		t.Errorf("result = %v, want %q (last registration wins)", result, "second")
	}

	if got := len(reg.Names()); got != 1 {
		t.Errorf("Names() has %d entries, want 1", got)
	}
}

func TestRegistry_MalformedPayload(t *testing.T) {
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("typed",
		func(_ context.Context, _ greetPayload) (any, error) { return nil, nil },
	))

	handler, _ := reg.Get("typed")
	if _, err := handler(context.Background(), []byte("{not json")); err == nil {
		t.Error("expected unmarshal error for malformed payload")
	}
}

func TestRegistry_DefaultsFromDefinition(t *testing.T) {
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("urgent",
		func(_ context.Context, _ struct{}) (any, error) { return nil, nil },
		job.WithPriority(1),
		job.WithMaxRetries(5),
	))

	opts, ok := reg.Defaults("urgent")
	if !ok {
		t.Fatal("Defaults(urgent) not found")
	}
	if opts.Priority != 1 {
		t.Errorf("Priority = %d, want 1", opts.Priority)
	}
	if opts.MaxRetries != 5 || !opts.MaxRetriesSet() {
		t.Errorf("MaxRetries = %d (set=%v), want 5 (set=true)", opts.MaxRetries, opts.MaxRetriesSet())
	}
}
