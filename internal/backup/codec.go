package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	apperrors "casevault/internal/errors"
	"casevault/internal/security"
)

const (
	// Version is the only envelope version written and accepted.
	Version = 1

	// AssociatedData binds the ciphertext to this format.
	AssociatedData = "casevault-backup-v1"

	// DefaultMaxSize bounds Decode input.
	DefaultMaxSize int64 = 500 << 20

	TracerName = "casevault/backup"
	MeterName  = "casevault/backup"
)

// Limits on envelope KDF parameters, so a crafted file cannot demand
// unbounded memory or time.
const (
	maxMemoryKiB   = 1 << 20
	maxIterations  = 64
	maxParallelism = 16
)

// KDF records the key-derivation parameters in an envelope.
type KDF struct {
	Algorithm string `json:"alg"`
	security.Argon2Params
}

// Envelope is the portable backup file. Binary fields are lowercase hex.
type Envelope struct {
	Version int    `json:"v"`
	KDF     *KDF   `json:"kdf,omitempty"`
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Data    string `json:"data"`
}

// Metrics holds the codec's instruments.
type Metrics struct {
	Exports metric.Int64Counter
	Imports metric.Int64Counter
}

// InitializeMetrics creates the instruments on meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.Exports, err = meter.Int64Counter("backup_exports_total",
		metric.WithDescription("Backup exports by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create exports counter: %w", err)
	}
	if m.Imports, err = meter.Int64Counter("backup_imports_total",
		metric.WithDescription("Backup imports by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create imports counter: %w", err)
	}
	return m, nil
}

// Codec encrypts and decrypts backups. It has no access to the live vault.
type Codec struct {
	params  security.Argon2Params
	maxSize int64
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Codec.
type Option func(*Codec)

// WithParams sets the Argon2id cost for new envelopes.
func WithParams(p security.Argon2Params) Option {
	return func(c *Codec) { c.params = p }
}

// WithMaxSize bounds the encoded size Decode accepts.
func WithMaxSize(n int64) Option {
	return func(c *Codec) { c.maxSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// WithMetrics sets the instruments.
func WithMetrics(m *Metrics) Option {
	return func(c *Codec) { c.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Codec) { c.tracer = t }
}

// NewCodec returns a Codec with production defaults.
func NewCodec(opts ...Option) (*Codec, error) {
	c := &Codec{
		params:  security.DefaultArgon2Params(),
		maxSize: DefaultMaxSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.params.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid backup kdf parameters", err)
	}
	if c.maxSize <= 0 {
		return nil, apperrors.NewConfigError("backup max size must be positive", nil)
	}
	if c.metrics == nil {
		c.metrics, _ = InitializeMetrics(noop.NewMeterProvider().Meter(MeterName))
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(TracerName)
	}
	c.logger = c.logger.With("component", "backup")
	return c, nil
}

// MaxSize is the largest encoded envelope Decode accepts.
func (c *Codec) MaxSize() int64 {
	return c.maxSize
}

// Export encrypts plaintext under a key derived from password.
func (c *Codec) Export(ctx context.Context, plaintext, password []byte) (*Envelope, error) {
	ctx, span := c.tracer.Start(ctx, "backup.export")
	defer span.End()

	env, err := c.export(plaintext, password)
	c.record(ctx, span, c.metrics.Exports, "export", err)
	return env, err
}

func (c *Codec) export(plaintext, password []byte) (*Envelope, error) {
	if len(password) == 0 {
		return nil, apperrors.NewValidationError("backup password is required")
	}

	salt, err := security.RandomBytes(security.SaltSize)
	if err != nil {
		return nil, err
	}
	kdf, err := security.NewArgon2KDF(c.params)
	if err != nil {
		return nil, err
	}
	key, err := kdf.DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer security.Zero(key)

	box, err := security.SealDetached(key, plaintext, []byte(AssociatedData))
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version: Version,
		KDF:     &KDF{Algorithm: security.KDFArgon2id, Argon2Params: c.params},
		Salt:    hex.EncodeToString(salt),
		IV:      hex.EncodeToString(box.Nonce),
		AuthTag: hex.EncodeToString(box.Tag),
		Data:    hex.EncodeToString(box.Ciphertext),
	}, nil
}

// Import decrypts env. Structural problems return MALFORMED_INPUT; a wrong
// password and any corruption of salt, iv, tag or data return
// WRONG_PASSWORD_OR_CORRUPT.
func (c *Codec) Import(ctx context.Context, env *Envelope, password []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backup.import")
	defer span.End()

	plain, err := c.importEnvelope(env, password)
	c.record(ctx, span, c.metrics.Imports, "import", err)
	return plain, err
}

func (c *Codec) importEnvelope(env *Envelope, password []byte) ([]byte, error) {
	parsed, err := parse(env)
	if err != nil {
		return nil, err
	}

	kdf, err := security.NewArgon2KDF(parsed.params)
	if err != nil {
		return nil, apperrors.NewMalformedInputError("backup kdf parameters are invalid", err)
	}
	key, err := kdf.DeriveKey(password, parsed.salt)
	if err != nil {
		return nil, apperrors.NewMalformedInputError("backup kdf parameters are invalid", err)
	}
	defer security.Zero(key)

	plain, err := security.OpenDetached(key, parsed.box, []byte(AssociatedData))
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrTypeWrongPasswordOrCorrupt, "wrong password or corrupted backup", nil)
	}
	return plain, nil
}

type parsedEnvelope struct {
	params security.Argon2Params
	salt   []byte
	box    *security.SealedBox
}

// parse checks everything that can be checked without the password.
func parse(env *Envelope) (*parsedEnvelope, error) {
	if env == nil {
		return nil, apperrors.NewMalformedInputError("backup is empty", nil)
	}
	if env.Version != Version {
		return nil, apperrors.NewMalformedInputError(fmt.Sprintf("unsupported backup version %d", env.Version), nil)
	}

	params := security.DefaultArgon2Params()
	if env.KDF != nil {
		if env.KDF.Algorithm != security.KDFArgon2id {
			return nil, apperrors.NewMalformedInputError(fmt.Sprintf("unsupported kdf %q", env.KDF.Algorithm), nil)
		}
		params = env.KDF.Argon2Params
	}
	if err := params.Validate(); err != nil {
		return nil, apperrors.NewMalformedInputError("backup kdf parameters are invalid", err)
	}
	if params.MemoryKiB > maxMemoryKiB || params.Iterations > maxIterations || params.Parallelism > maxParallelism {
		return nil, apperrors.NewMalformedInputError("backup kdf parameters exceed limits", nil)
	}

	fields := []struct {
		name string
		text string
		size int
	}{
		{"salt", env.Salt, security.SaltSize},
		{"iv", env.IV, security.NonceSize},
		{"authTag", env.AuthTag, security.TagSize},
		{"data", env.Data, -1},
	}
	decoded := make([][]byte, len(fields))
	for i, f := range fields {
		b, err := hex.DecodeString(f.text)
		if err != nil {
			return nil, apperrors.NewMalformedInputError(fmt.Sprintf("backup field %s is not hex", f.name), err)
		}
		if f.size >= 0 && len(b) != f.size {
			return nil, apperrors.NewMalformedInputError(
				fmt.Sprintf("backup field %s has length %d, want %d", f.name, len(b), f.size), nil)
		}
		decoded[i] = b
	}

	return &parsedEnvelope{
		params: params,
		salt:   decoded[0],
		box: &security.SealedBox{
			Nonce:      decoded[1],
			Tag:        decoded[2],
			Ciphertext: decoded[3],
		},
	}, nil
}

// Encode renders env as the backup file text.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	return json.Marshal(env)
}

// Decode parses backup file text. Input larger than MaxSize, invalid JSON
// and unknown fields are MALFORMED_INPUT.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	if int64(len(data)) > c.maxSize {
		return nil, apperrors.NewMalformedInputError(fmt.Sprintf("backup exceeds %d bytes", c.maxSize), nil)
	}
	return decode(bytes.NewReader(data))
}

// DecodeReader is Decode over a stream, reading at most MaxSize+1 bytes.
func (c *Codec) DecodeReader(r io.Reader) (*Envelope, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxSize+1))
	if err != nil {
		return nil, apperrors.NewMalformedInputError("failed to read backup", err)
	}
	return c.Decode(data)
}

func decode(r io.Reader) (*Envelope, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, apperrors.NewMalformedInputError("backup is not valid JSON", err)
	}
	if dec.More() {
		return nil, apperrors.NewMalformedInputError("trailing data after backup", nil)
	}
	if _, err := parse(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *Codec) record(ctx context.Context, span trace.Span, counter metric.Int64Counter, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "backup "+op+" failed",
			slog.String("action", op),
			slog.String("result", outcome),
			slog.String("error", err.Error()))
	} else {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "backup "+op+" completed",
			slog.String("action", op),
			slog.String("result", outcome))
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func classify(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrTypeMalformedInput:
		return "malformed"
	case apperrors.ErrTypeWrongPasswordOrCorrupt:
		return "wrong_password_or_corrupt"
	case apperrors.ErrTypeValidation:
		return "invalid_request"
	default:
		return "internal"
	}
}
