package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-applier/internal/schemas"
	"github.com/jonathan/job-applier/internal/types"
	embedded "github.com/jonathan/job-applier/schemas"
)

// MockPutObject records uploads.
type MockPutObject struct {
	PutObjectFunc func(ctx context.Context, in *s3.PutObjectInput) error

	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]string
}

func (m *MockPutObject) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		if err := m.PutObjectFunc(ctx, in); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
		m.meta = make(map[string]string)
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = body
	m.meta[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

type failingSink struct{ err error }

func (f failingSink) Name() string { return "broken" }

func (f failingSink) Put(context.Context, string, []byte) error { return f.err }

func sampleReport() *types.RunReport {
	r := types.NewRunReport(map[string]any{"max_applications_per_session": 5})
	r.StartedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	job := types.JobReference{ExternalID: "backend-engineer-acme-1", Title: "Backend Engineer", Company: "Acme", URL: "https://jobs.example.com/job-listings-backend-engineer-acme-1"}
	r.Append(types.NewAttempt(job, types.OutcomeApplied, "").WithScore(82))
	other := types.JobReference{ExternalID: "data-analyst-initech-2", Title: "Data Analyst", Company: "Initech"}
	r.Append(types.NewAttempt(other, types.OutcomeSkippedLowScore, "score 40 below 60").WithScore(40))
	r.Append(types.NewAttempt(types.JobReference{ExternalID: "x-3"}, types.OutcomeFailedTimeout, "context deadline exceeded"))
	r.Counters.Discovered = 3
	r.OracleStats = types.OracleStats{Calls: 2, Fallbacks: 1}
	r.Finish(types.RunCompleted, nil)
	return r
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "session_20260314_092653.json", FileName(sampleReport()))
}

func TestEncode_MatchesReportSchema(t *testing.T) {
	data, err := Encode(sampleReport())
	require.NoError(t, err)

	assert.NoError(t, schemas.ValidateBytes(embedded.RunReport, data))
}

func TestEncode_FailedRunMatchesReportSchema(t *testing.T) {
	r := types.NewRunReport(nil)
	r.Finish(types.RunFailed, errors.New("authentication failed: credentials_rejected"))

	data, err := Encode(r)
	require.NoError(t, err)
	assert.NoError(t, schemas.ValidateBytes(embedded.RunReport, data))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, "authentication failed: credentials_rejected", decoded["error"])
	assert.Equal(t, []any{}, decoded["attempts"])
}

func TestReportSchema_RejectsUnknownOutcome(t *testing.T) {
	r := sampleReport()
	r.Attempts[0].Outcome = "maybe"

	data, err := Encode(r)
	require.NoError(t, err)
	assert.Error(t, schemas.ValidateBytes(embedded.RunReport, data))
}

func TestFileWriter_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewFileWriter(dir)

	require.NoError(t, w.Put(context.Background(), "session_x.json", []byte(`{"ok":true}`)))

	data, err := os.ReadFile(w.Path("session_x.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestS3Mirror_Put(t *testing.T) {
	mock := &MockPutObject{}
	m := NewS3MirrorWithClient(mock, "run-reports", "runs")

	require.NoError(t, m.Put(context.Background(), "session_x.json", []byte("{}")))

	assert.Equal(t, "runs/session_x.json", m.Key("session_x.json"))
	assert.Equal(t, []byte("{}"), mock.objects["run-reports/runs/session_x.json"])
	assert.Equal(t, "application/json", mock.meta["run-reports/runs/session_x.json"])
}

func TestS3Mirror_PutError(t *testing.T) {
	mock := &MockPutObject{PutObjectFunc: func(context.Context, *s3.PutObjectInput) error {
		return errors.New("access denied")
	}}
	m := NewS3MirrorWithClient(mock, "run-reports", "")

	err := m.Put(context.Background(), "session_x.json", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestPublish_WritesEverySink(t *testing.T) {
	r := sampleReport()
	w := NewFileWriter(t.TempDir())
	mock := &MockPutObject{}
	mirror := NewS3MirrorWithClient(mock, "bucket", "runs/")

	require.NoError(t, Publish(context.Background(), r, w, mirror))

	local, err := os.ReadFile(w.Path(FileName(r)))
	require.NoError(t, err)
	assert.Equal(t, local, mock.objects["bucket/runs/"+FileName(r)])
	assert.NoError(t, schemas.ValidateBytes(embedded.RunReport, local))
}

func TestPublish_OneSinkFailing(t *testing.T) {
	r := sampleReport()
	w := NewFileWriter(t.TempDir())

	err := Publish(context.Background(), r, failingSink{err: errors.New("disk full")}, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: disk full")

	_, statErr := os.Stat(w.Path(FileName(r)))
	assert.NoError(t, statErr, "healthy sinks still receive the report")
}

func TestPublish_NoSinks(t *testing.T) {
	assert.NoError(t, Publish(context.Background(), sampleReport()))
}
