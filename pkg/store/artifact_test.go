package store

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

type fakeS3 struct {
	objects      map[string]time.Time
	puts         []*s3.PutObjectInput
	headErr      error
	alwaysErrors bool
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	mod, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{LastModified: &mod}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.alwaysErrors {
		return nil, fmt.Errorf("slow down")
	}
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	for _, put := range f.puts {
		if aws.ToString(put.Key) == aws.ToString(in.Key) {
			body, _ := io.ReadAll(put.Body)
			return &s3.GetObjectOutput{Body: io.NopCloser(newReader(body))}, nil
		}
	}
	return nil, &types.NoSuchKey{}
}

type byteReader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func testInvestigation() *models.Investigation {
	alert := &models.AlertInstance{
		Alertname: "KubeContainerOOMKilled",
		Status:    models.AlertFiring,
		Labels: map[string]string{
			"alertname": "KubeContainerOOMKilled",
			"namespace": "prod",
			"pod":       "web-7d4b9c-xk2p1",
			"severity":  "critical",
		},
	}
	id := models.DeriveIdentity(alert)
	return &models.Investigation{
		CaseID:         models.CaseIDFor(id, models.FamilyOOMKilled),
		RunID:          "run-1234",
		Alert:          alert,
		Identity:       id,
		Family:         models.FamilyOOMKilled,
		Analysis:       &models.Analysis{},
		ReportMarkdown: "# KubeContainerOOMKilled\n",
		CreatedAt:      time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func testArtifactStore(client objectAPI) *ArtifactStore {
	return &ArtifactStore{
		client:    client,
		bucket:    "tarka-reports",
		prefix:    "investigations",
		freshness: time.Hour,
		now:       func() time.Time { return time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC) },
	}
}

func TestKeysFor_Schema(t *testing.T) {
	inv := testInvestigation()
	keys := KeysFor("investigations", inv, 123456)

	expectedBase := fmt.Sprintf("investigations/2026-03-14/%s-oom_killed-123456", inv.Identity.Hash())
	assert.Equal(t, expectedBase+".md", keys.Markdown)
	assert.Equal(t, expectedBase+".json", keys.JSON)
}

func TestWrite_PutsTwinsWithMetadata(t *testing.T) {
	client := &fakeS3{objects: map[string]time.Time{}}
	s := testArtifactStore(client)
	inv := testInvestigation()

	written, err := s.Write(context.Background(), inv, 123456, []byte(`{"case_id":"x"}`))
	require.NoError(t, err)
	assert.True(t, written)
	require.Len(t, client.puts, 2)

	md, js := client.puts[0], client.puts[1]
	assert.Equal(t, "text/markdown", aws.ToString(md.ContentType))
	assert.Equal(t, "application/json", aws.ToString(js.ContentType))
	for _, put := range client.puts {
		assert.Equal(t, "run-1234", put.Metadata["x-run-id"])
		assert.Equal(t, inv.CaseID, put.Metadata["x-case-id"])
		assert.Equal(t, "tarka-reports", aws.ToString(put.Bucket))
	}
}

func TestWrite_SkipsFreshArtifact(t *testing.T) {
	inv := testInvestigation()
	keys := KeysFor("investigations", inv, 123456)
	client := &fakeS3{objects: map[string]time.Time{
		keys.Markdown: time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC), // 15m old
	}}
	s := testArtifactStore(client)

	written, err := s.Write(context.Background(), inv, 123456, []byte("{}"))
	require.NoError(t, err)
	assert.False(t, written)
	assert.Empty(t, client.puts)
}

func TestWrite_OverwritesStaleArtifact(t *testing.T) {
	inv := testInvestigation()
	keys := KeysFor("investigations", inv, 123456)
	client := &fakeS3{objects: map[string]time.Time{
		keys.Markdown: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC), // 3h old
	}}
	s := testArtifactStore(client)

	written, err := s.Write(context.Background(), inv, 123456, []byte("{}"))
	require.NoError(t, err)
	assert.True(t, written)
	assert.Len(t, client.puts, 2)
}

func TestWrite_HeadErrorPropagates(t *testing.T) {
	client := &fakeS3{headErr: fmt.Errorf("connection reset")}
	s := testArtifactStore(client)

	_, err := s.Write(context.Background(), testInvestigation(), 123456, []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heading artifact")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.False(t, isNotFound(fmt.Errorf("connection reset")))
	assert.False(t, isNotFound(nil))
}

func TestStatusForAction(t *testing.T) {
	tests := []struct {
		action string
		status string
		ok     bool
	}{
		{"ack", "acknowledged", true},
		{"resolve", "resolved", true},
		{"note", "", false},
	}
	for _, tc := range tests {
		status, ok := statusForAction(tc.action)
		assert.Equal(t, tc.ok, ok, tc.action)
		assert.Equal(t, tc.status, status, tc.action)
	}
}
