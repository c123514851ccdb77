package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/backend"
)

const unloadTimeout = 10 * time.Second

// Backend implements backend.Backend over a gRPC connection.
type Backend struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewBackend creates a client for address. The connection is established lazily.
// Without extra options the connection is plaintext.
func NewBackend(address string, timeout time.Duration, opts ...grpc.DialOption) (*Backend, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", address, err)
	}

	return &Backend{conn: conn, timeout: timeout}, nil
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderGRPC
}

// Load asks the sidecar to load the model.
func (b *Backend) Load(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
	req, err := structpb.NewStruct(map[string]any{
		"task":   spec.Task,
		"model":  spec.ModelRef(),
		"device": spec.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: build load request: %w", err)
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := b.conn.Invoke(ctx, methodLoad, req, out); err != nil {
		return nil, fmt.Errorf("rpc: load %s: %w", spec.ModelName, classify(err))
	}

	fields := out.AsMap()
	id, _ := fields["model_id"].(string)
	rate, _ := fields["sample_rate"].(float64)
	if spec.SampleRate > 0 {
		rate = float64(spec.SampleRate)
	}
	if id == "" || rate <= 0 {
		return nil, fmt.Errorf("%w: incomplete load response", backend.ErrEngine)
	}

	slog.Debug("gRPC model loaded", "model", spec.ModelName, "model_id", id)

	return &Model{
		backend:    b,
		id:         id,
		sampleRate: int(rate),
		params:     backend.ParamsFromMap(spec.Parameters, backend.DefaultGenerationParams()),
	}, nil
}

// Close closes the connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return context.WithCancel(ctx)
}

// Model is a model resident in the gRPC sidecar.
type Model struct {
	backend    *Backend
	id         string
	sampleRate int
	params     backend.GenerationParams
}

// SampleRate returns the model's output rate.
func (m *Model) SampleRate() int {
	return m.sampleRate
}

// SetGenerationParams configures the next Generate call.
func (m *Model) SetGenerationParams(params backend.GenerationParams) {
	m.params = params
}

// Generate issues one Generate call per description.
func (m *Model) Generate(ctx context.Context, descriptions []string) ([]*audio.Waveform, error) {
	out := make([]*audio.Waveform, 0, len(descriptions))
	for _, description := range descriptions {
		req, err := structpb.NewStruct(map[string]any{
			"model_id":    m.id,
			"description": description,
			"params":      m.params.ToMap(),
		})
		if err != nil {
			return nil, fmt.Errorf("rpc: build generate request: %w", err)
		}

		wave, err := m.generateOne(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, wave)
	}
	return out, nil
}

func (m *Model) generateOne(ctx context.Context, req *structpb.Struct) (*audio.Waveform, error) {
	ctx, cancel := m.backend.withTimeout(ctx)
	defer cancel()

	resp := new(wrapperspb.BytesValue)
	if err := m.backend.conn.Invoke(ctx, methodGenerate, req, resp); err != nil {
		return nil, classify(err)
	}

	wave, err := audio.DecodeWAV(bytes.NewReader(resp.GetValue()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrEngine, err)
	}
	return wave, nil
}

// Close unloads the model from the sidecar.
func (m *Model) Close() error {
	req, err := structpb.NewStruct(map[string]any{"model_id": m.id})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()

	if err := m.backend.conn.Invoke(ctx, methodUnload, req, new(emptypb.Empty)); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("rpc: unload %s: %w", m.id, err)
	}
	return nil
}

// classify maps gRPC status codes onto backend errors.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", backend.ErrOutOfMemory, st.Message())
	case codes.Canceled:
		return errors.Join(context.Canceled, err)
	case codes.DeadlineExceeded:
		return errors.Join(context.DeadlineExceeded, err)
	case codes.Internal, codes.Unknown, codes.FailedPrecondition, codes.InvalidArgument, codes.NotFound:
		return backend.EngineFailure(st.Message())
	default:
		return err
	}
}
