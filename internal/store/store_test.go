package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/john/combinedchat/internal/message"
)

func sampleState(n int) State {
	st := State{
		Connected: true,
		Channels:  message.Targets{Twitch: []string{"foo"}, Kick: []string{"bar-baz"}},
	}
	for i := 0; i < n; i++ {
		st.Messages = append(st.Messages, message.Event{
			Kind:     message.KindChat,
			Platform: message.Twitch,
			Channel:  "foo",
			ID:       fmt.Sprintf("m%d", i),
			User:     "alice",
			Message:  fmt.Sprintf("hello %d", i),
			Badges:   []message.Badge{{Type: "vip"}},
		})
	}
	return st
}

func TestRoundTripBackends(t *testing.T) {
	ctx := context.Background()
	file, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	backends := map[string]Backend{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": sqlite,
		"s3":     &S3{client: newFakeObjects(), bucket: "chat", prefix: "state"},
	}

	for name, backend := range backends {
		s := New(backend, 50)
		want := sampleState(5)
		s.Save(ctx, want)

		got := New(backend, 50).Load(ctx)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: round trip mismatch\nexpected %+v\ngot      %+v", name, want, got)
		}
		if s.Disabled() {
			t.Fatalf("%s: store should still be enabled", name)
		}
	}
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	s := New(NewMemory(), 10)
	got := s.Load(context.Background())
	if got.Connected || !got.Channels.Empty() || len(got.Messages) != 0 {
		t.Fatalf("expected zero state, got %+v", got)
	}
}

func TestSaveKeepsNewestMessages(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory(), 3)
	s.Save(ctx, sampleState(10))

	got := s.Load(ctx)
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].ID != "m7" || got.Messages[2].ID != "m9" {
		t.Fatalf("expected newest messages m7..m9, got %s..%s", got.Messages[0].ID, got.Messages[2].ID)
	}
}

func TestLoadValidatesFieldsIndependently(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	raw := `{"connected":"yes","channels":{"twitch":"Foo, @bar","kick":[1,2]},
		"messages":[{"type":"chat","id":"1","message":"ok"},42,{"type":"chat","id":{}},{"message":"no kind"}]}`
	if err := backend.Set(ctx, DefaultKey, []byte(raw)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got := New(backend, 10).Load(ctx)
	if got.Connected {
		t.Fatalf("non-bool connected must default to false")
	}
	if !reflect.DeepEqual(got.Channels.Twitch, []string{"foo", "bar"}) {
		t.Fatalf("expected twitch channels parsed from text, got %v", got.Channels.Twitch)
	}
	if got.Channels.Kick != nil {
		t.Fatalf("expected invalid kick list to degrade to empty, got %v", got.Channels.Kick)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != "1" {
		t.Fatalf("expected only the valid message to survive, got %+v", got.Messages)
	}
}

func TestLoadGarbage(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	_ = backend.Set(ctx, DefaultKey, []byte("not json at all"))
	got := New(backend, 10).Load(ctx)
	if !reflect.DeepEqual(got, State{}) {
		t.Fatalf("expected zero state for garbage, got %+v", got)
	}
}

type flakyBackend struct {
	*Memory
	failSet bool
	sets    int
	gets    int
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.gets++
	return f.Memory.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte) error {
	f.sets++
	if f.failSet {
		f.failSet = false
		return errors.New("quota exceeded")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestWriteFailureDisablesPermanently(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Memory: NewMemory()}
	s := New(backend, 10)
	s.Save(ctx, sampleState(1))

	backend.failSet = true
	s.Save(ctx, sampleState(2))
	if !s.Disabled() {
		t.Fatalf("expected store to be disabled after a write failure")
	}

	setsBefore, getsBefore := backend.sets, backend.gets
	s.Save(ctx, sampleState(3))
	s.Append(ctx, message.Event{Kind: message.KindChat, ID: "x"})
	s.SetConnection(ctx, false, nil)
	s.Clear(ctx)
	if got := s.Load(ctx); !reflect.DeepEqual(got, State{}) {
		t.Fatalf("disabled store must load the zero state, got %+v", got)
	}
	if backend.sets != setsBefore || backend.gets != getsBefore {
		t.Fatalf("disabled store touched the backend: sets %d->%d gets %d->%d",
			setsBefore, backend.sets, getsBefore, backend.gets)
	}
}

type countingBackend struct {
	*Memory
	sets  atomic.Int32
	bytes atomic.Int64
}

func (c *countingBackend) Set(ctx context.Context, key string, value []byte) error {
	c.sets.Add(1)
	c.bytes.Add(int64(len(value)))
	return c.Memory.Set(ctx, key, value)
}

// runBehind starts s.Run and waits until mutations are deferred to it.
func runBehind(t *testing.T, s *Store) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s.mu.Lock()
		behind := s.behind
		s.mu.Unlock()
		if behind {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for Run")
		}
		time.Sleep(time.Millisecond)
	}
	return func() {
		cancel()
		<-done
	}
}

func TestRunCoalescesWrites(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Memory: NewMemory()}
	s := New(backend, 200, WithFlushInterval(time.Hour))
	s.Load(ctx)
	stop := runBehind(t, s)

	targets := message.Targets{Twitch: []string{"foo"}}
	s.SetConnection(ctx, true, &targets)
	for i := range 500 {
		s.Append(ctx, message.Event{Kind: message.KindChat, ID: fmt.Sprint(i), Message: "hello"})
	}
	if n := backend.sets.Load(); n != 0 {
		t.Fatalf("expected no writes before the flush, got %d", n)
	}
	if got := s.Load(ctx); len(got.Messages) != 200 || got.Messages[199].ID != "499" {
		t.Fatalf("expected the pending snapshot from Load, got %d messages", len(got.Messages))
	}

	stop()
	if n := backend.sets.Load(); n != 1 {
		t.Fatalf("expected 500 appends to be written once, got %d writes", n)
	}
	got := New(backend, 200).Load(ctx)
	if !got.Connected || len(got.Messages) != 200 || got.Messages[0].ID != "300" {
		t.Fatalf("expected newest 200 messages persisted, got connected=%v n=%d", got.Connected, len(got.Messages))
	}
}

func TestRunFlushesOnInterval(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Memory: NewMemory()}
	s := New(backend, 10, WithFlushInterval(10*time.Millisecond))
	stop := runBehind(t, s)
	defer stop()

	s.Append(ctx, message.Event{Kind: message.KindChat, ID: "1"})
	deadline := time.Now().Add(5 * time.Second)
	for backend.sets.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the background write")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := New(backend, 10).Load(ctx); len(got.Messages) != 1 {
		t.Fatalf("expected the appended message written, got %+v", got)
	}
}

func TestRunLatestChangeWins(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	s := New(backend, 10, WithFlushInterval(time.Hour))
	s.Save(ctx, sampleState(3))
	stop := runBehind(t, s)

	s.Clear(ctx)
	s.Append(ctx, message.Event{Kind: message.KindChat, ID: "after"})
	stop()

	got := New(backend, 10).Load(ctx)
	if got.Connected || len(got.Messages) != 1 || got.Messages[0].ID != "after" {
		t.Fatalf("expected only the message appended after clear, got %+v", got)
	}

	s.Clear(ctx)
	if _, err := backend.Get(ctx, DefaultKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected clear after Run to remove the key, got %v", err)
	}
}

type hangingBackend struct{ *Memory }

func (hangingBackend) Set(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWriteTimeoutDisables(t *testing.T) {
	s := New(hangingBackend{NewMemory()}, 10, WithWriteTimeout(20*time.Millisecond))
	start := time.Now()
	s.Save(context.Background(), sampleState(1))
	if time.Since(start) > 5*time.Second {
		t.Fatalf("write was not bounded by the timeout")
	}
	if !s.Disabled() {
		t.Fatalf("expected a timed out write to disable the store")
	}
}

func TestLoadKeepsOpaqueEvents(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	frame := `{"type":"raid","platform":"twitch","viewers":12}`
	ev, err := message.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	New(backend, 10).Save(ctx, State{Messages: []message.Event{ev}})

	got := New(backend, 10).Load(ctx)
	if len(got.Messages) != 1 || string(got.Messages[0].Raw) != frame {
		t.Fatalf("expected the raw frame to survive a reload, got %+v", got.Messages)
	}
}

func TestAppendAndSetConnection(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory(), 2)
	targets := message.Targets{Twitch: []string{"foo"}}
	s.SetConnection(ctx, true, &targets)
	for i := 0; i < 3; i++ {
		s.Append(ctx, message.Event{Kind: message.KindChat, ID: fmt.Sprint(i)})
	}
	s.SetConnection(ctx, false, nil)

	got := s.Load(ctx)
	if got.Connected {
		t.Fatalf("expected connected=false")
	}
	if !reflect.DeepEqual(got.Channels.Twitch, []string{"foo"}) {
		t.Fatalf("expected channels to survive disconnect, got %+v", got.Channels)
	}
	if len(got.Messages) != 2 || got.Messages[0].ID != "1" {
		t.Fatalf("expected rolling window [1 2], got %+v", got.Messages)
	}

	s.ResetHistory(ctx)
	if got := s.Load(ctx); len(got.Messages) != 0 {
		t.Fatalf("expected history reset, got %d messages", len(got.Messages))
	}
}

func TestNilBackendIsVolatile(t *testing.T) {
	s := New(nil, 10)
	if !s.Disabled() {
		t.Fatalf("expected nil backend to disable persistence")
	}
	s.Save(context.Background(), sampleState(1))
}

type fakeObjects struct {
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3MissingKeyIsNotFound(t *testing.T) {
	objects := newFakeObjects()
	b := &S3{client: objects, bucket: "chat", prefix: "state"}
	if _, err := b.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = b.Set(context.Background(), "k", []byte("{}"))
	if _, ok := objects.objects["chat/state/k.json"]; !ok {
		t.Fatalf("expected object under prefixed key, got %v", objects.objects)
	}
}
