package rpc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
)

type fakeGenerator struct {
	mu          sync.Mutex
	wav         []byte
	generateErr error
	lastParams  map[string]any
	unloaded    []string
}

func (f *fakeGenerator) Load(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	if fields["model"] == "missing" {
		return nil, status.Error(codes.NotFound, "model missing not found on hub")
	}
	return structpb.NewStruct(map[string]any{"model_id": fields["task"].(string) + "-7", "sample_rate": 16000})
}

func (f *fakeGenerator) Generate(_ context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	f.lastParams, _ = req.AsMap()["params"].(map[string]any)
	return wrapperspb.Bytes(f.wav), nil
}

func (f *fakeGenerator) Unload(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded = append(f.unloaded, req.AsMap()["model_id"].(string))
	return &emptypb.Empty{}, nil
}

func (f *fakeGenerator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateErr = err
}

func startServer(t *testing.T, fake *fakeGenerator) *Backend {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGeneratorServer(srv, fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	b, err := NewBackend("passthrough:///bufnet", 5*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func clip(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, audio.NewWaveform(16000, make([]float64, 800))))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestBackend_LoadGenerateUnload(t *testing.T) {
	fake := &fakeGenerator{wav: clip(t)}
	b := startServer(t, fake)
	assert.Equal(t, backend.ProviderGRPC, b.Provider())

	m, err := b.Load(context.Background(), backend.LoadSpec{Task: "sfx", ModelName: "facebook/audiogen-medium", Device: "cuda"})
	require.NoError(t, err)
	assert.Equal(t, 16000, m.SampleRate())

	m.SetGenerationParams(backend.DefaultGenerationParams().WithDuration(5))
	waves, err := m.Generate(context.Background(), []string{"dog barking"})
	require.NoError(t, err)
	require.Len(t, waves, 1)
	assert.Equal(t, 800, waves[0].NumSamples())
	assert.Equal(t, 5.0, fake.lastParams["duration"])
	assert.Equal(t, 250.0, fake.lastParams["top_k"])

	require.NoError(t, m.Close())
	assert.Equal(t, []string{"sfx-7"}, fake.unloaded)
}

func TestBackend_LoadNotFound(t *testing.T) {
	b := startServer(t, &fakeGenerator{})
	_, err := b.Load(context.Background(), backend.LoadSpec{Task: "music", ModelName: "missing", Device: "cpu"})
	assert.ErrorIs(t, err, backend.ErrEngine)
	assert.ErrorContains(t, err, "not found on hub")
}

func TestModel_GenerateErrors(t *testing.T) {
	fake := &fakeGenerator{wav: clip(t)}
	b := startServer(t, fake)
	m, err := b.Load(context.Background(), backend.LoadSpec{Task: "music", ModelName: "facebook/musicgen-small", Device: "cuda"})
	require.NoError(t, err)

	fake.setErr(status.Error(codes.ResourceExhausted, "CUDA out of memory"))
	_, err = m.Generate(context.Background(), []string{"epic orchestra"})
	assert.ErrorIs(t, err, backend.ErrOutOfMemory)

	fake.setErr(status.Error(codes.Internal, "RuntimeError: bad shape"))
	_, err = m.Generate(context.Background(), []string{"epic orchestra"})
	assert.ErrorIs(t, err, backend.ErrEngine)
	assert.ErrorContains(t, err, "bad shape")

	fake.setErr(nil)
	fake.mu.Lock()
	fake.wav = []byte("garbage")
	fake.mu.Unlock()
	_, err = m.Generate(context.Background(), []string{"epic orchestra"})
	assert.ErrorIs(t, err, backend.ErrEngine)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(status.Error(codes.Canceled, "x")), context.Canceled)
	assert.ErrorIs(t, classify(status.Error(codes.DeadlineExceeded, "x")), context.DeadlineExceeded)
	assert.Equal(t, codes.Unavailable, status.Code(classify(status.Error(codes.Unavailable, "down"))))
}
