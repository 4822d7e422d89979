package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects []types.Object
	deleted []string
	put     map[string][]byte
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	if f.put == nil {
		f.put = map[string][]byte{}
	}
	f.put[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{Contents: f.objects}, nil
}

func (f *fakeStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func object(key string, at time.Time) types.Object {
	return types.Object{Key: aws.String(key), LastModified: aws.Time(at)}
}

func TestRotateBackupsKeepsNewest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{objects: []types.Object{
		object("backups/a", base),
		object("backups/c", base.Add(48*time.Hour)),
		object("backups/b", base.Add(24*time.Hour)),
	}}

	err := rotateBackups(context.Background(), store, BackupConfig{BackupBucket: "b", KeepBackups: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/a"}, store.deleted)
}

func TestRotateBackupsNothingToDo(t *testing.T) {
	store := &fakeStore{objects: []types.Object{object("backups/a", time.Now())}}
	require.NoError(t, rotateBackups(context.Background(), store, BackupConfig{KeepBackups: 4}))
	assert.Empty(t, store.deleted)
}

func TestArchiveFilesSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	reports := filepath.Join(dir, "reports.json")
	require.NoError(t, os.WriteFile(reports, []byte(`[]`), 0o644))

	data, err := archiveFiles([]string{reports, filepath.Join(dir, "missing.json")})
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(reports), hdr.Name)
	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestArchiveFilesFailsWithoutAnyFile(t *testing.T) {
	_, err := archiveFiles([]string{filepath.Join(t.TempDir(), "nope.json")})
	assert.Error(t, err)
}

func TestBackupKeyAndUpload(t *testing.T) {
	key := backupKey(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC), "tar.gz")
	assert.Equal(t, "backups/backup-2026-03-04T05-06-07Z.tar.gz", key)

	store := &fakeStore{}
	require.NoError(t, uploadToS3(context.Background(), store, BackupConfig{BackupBucket: "b"}, key, []byte("x")))
	assert.Equal(t, []byte("x"), store.put[key])
}
