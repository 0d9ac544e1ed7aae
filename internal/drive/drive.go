// Package drive uploads history snapshots to a Google Drive folder. A file
// whose name already exists in the folder is updated in place, so the
// folder always holds one copy per snapshot file.
package drive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// parquetMimeType is the media type of the snapshot files.
const parquetMimeType = "application/vnd.apache.parquet"

// filesAPI is the part of the Drive API the uploader needs.
type filesAPI interface {
	Find(ctx context.Context, folderID, name string) (string, error)
	Create(ctx context.Context, folderID, name string, media *os.File) (string, error)
	Update(ctx context.Context, fileID string, media *os.File) error
}

// Uploader puts files in one Drive folder.
type Uploader struct {
	folderID string
	api      filesAPI
}

// Upload is the outcome for one file.
type Upload struct {
	Path    string
	FileID  string
	Updated bool
}

// NewUploader connects to the Drive API with a service account given as a
// file path or inline JSON.
func NewUploader(ctx context.Context, folderID, credentialsFile, credentialsJSON string) (*Uploader, error) {
	if strings.TrimSpace(folderID) == "" {
		return nil, fmt.Errorf("drive.folder_id is required")
	}

	var opts []option.ClientOption
	switch {
	case credentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Uploader{folderID: folderID, api: googleDrive{svc: svc}}, nil
}

// UploadAll uploads every path and stops at the first failure.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) ([]Upload, error) {
	uploads := make([]Upload, 0, len(paths))
	for _, path := range paths {
		up, err := u.Upload(ctx, path)
		if err != nil {
			return uploads, err
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

// Upload creates or updates the file named like path in the folder.
func (u *Uploader) Upload(ctx context.Context, path string) (Upload, error) {
	name := filepath.Base(path)

	file, err := os.Open(path)
	if err != nil {
		return Upload{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	existing, err := u.api.Find(ctx, u.folderID, name)
	if err != nil {
		return Upload{}, fmt.Errorf("looking up %s in drive: %w", name, err)
	}

	if existing != "" {
		if err := u.api.Update(ctx, existing, file); err != nil {
			return Upload{}, fmt.Errorf("updating %s in drive: %w", name, err)
		}
		return Upload{Path: path, FileID: existing, Updated: true}, nil
	}

	id, err := u.api.Create(ctx, u.folderID, name, file)
	if err != nil {
		return Upload{}, fmt.Errorf("creating %s in drive: %w", name, err)
	}
	return Upload{Path: path, FileID: id}, nil
}

// googleDrive implements filesAPI with the generated client.
type googleDrive struct {
	svc *gdrive.Service
}

func (g googleDrive) Find(ctx context.Context, folderID, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", folderID, escapeQuery(name))
	r, err := g.svc.Files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) == 0 {
		return "", nil
	}
	return r.Files[0].Id, nil
}

func (g googleDrive) Create(ctx context.Context, folderID, name string, media *os.File) (string, error) {
	meta := &gdrive.File{Name: name, Parents: []string{folderID}, MimeType: parquetMimeType}
	created, err := g.svc.Files.Create(meta).Media(media).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (g googleDrive) Update(ctx context.Context, fileID string, media *os.File) error {
	_, err := g.svc.Files.Update(fileID, &gdrive.File{}).Media(media).Context(ctx).Do()
	return err
}

// escapeQuery escapes a literal for the Drive query language.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
