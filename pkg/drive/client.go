package drive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// MIME types for the two file kinds a run uploads.
const (
	XLSXMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	PDFMimeType  = "application/pdf"
)

// Client uploads run artifacts (report workbooks, invoice PDFs) to a
// Google Drive folder.
type Client interface {
	Upload(ctx context.Context, filename, mimeType string, content []byte) (string, error)
}

type driveClient struct {
	folderID string
	svc      *drivev3.Service
}

// NewClient builds a Drive client authenticated with a service-account
// credentials file. Uploads land in folderID.
func NewClient(ctx context.Context, credentialsPath, folderID string) (Client, error) {
	svc, err := drivev3.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(drivev3.DriveScope),
	)
	if err != nil {
		return nil, eris.Wrap(err, "drive: create service")
	}
	return &driveClient{folderID: folderID, svc: svc}, nil
}

// Upload stores the file in the configured folder and returns its view link.
func (c *driveClient) Upload(ctx context.Context, filename, mimeType string, content []byte) (string, error) {
	meta := &drivev3.File{
		Name:     filename,
		Parents:  []string{c.folderID},
		MimeType: mimeType,
	}

	created, err := c.svc.Files.Create(meta).
		Media(bytes.NewReader(content)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", eris.Wrapf(err, "drive: upload %s", filename)
	}

	link := fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id)
	zap.L().Info("uploaded file to Drive",
		zap.String("filename", filename),
		zap.String("file_id", created.Id),
	)
	return link, nil
}
