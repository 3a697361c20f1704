package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// blobAPI is the subset of *azblob.Client the store uses
type blobAPI interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName string, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
}

// AzureStore keeps previews as blobs in one container
type AzureStore struct {
	client    blobAPI
	container string
}

func NewAzureStore(accountName, accountKey, container string) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}

	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	handle := newHandle()
	contentType := mimeType
	_, err := s.client.UploadBuffer(ctx, s.container, handle, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return handle, nil
}

func (s *AzureStore) Get(ctx context.Context, handle string) (*Preview, error) {
	if !validHandle(handle) {
		return nil, ErrPreviewNotFound
	}

	resp, err := s.client.DownloadStream(ctx, s.container, handle, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrPreviewNotFound
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}

	body := resp.Body
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	preview := &Preview{Data: data}
	if resp.ContentType != nil {
		preview.MIMEType = *resp.ContentType
	}
	return preview, nil
}

func (s *AzureStore) Delete(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return nil
	}
	_, err := s.client.DeleteBlob(ctx, s.container, handle, nil)
	if err == nil || bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("delete failed with status %d: %w", respErr.StatusCode, err)
	}
	return fmt.Errorf("delete failed: %w", err)
}
