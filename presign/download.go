package presign

import (
	"context"
	"fmt"
	"net/http"

	"github.com/melbahja/got"
)

// Download fetches a finished recording through a presigned download URL and writes it to dest.
func (c *Client) Download(ctx context.Context, key, dest string) error {
	c.logger.Debugf("Get download URL")
	url, err := c.DownloadURL(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get download URL: %w", err)
	}

	c.logger.Debugf("Download %s", key)
	if err := downloadFile(ctx, c.httpClient.StandardClient(), url, dest); err != nil {
		return fmt.Errorf("failed to download %s: %w", key, err)
	}

	return nil
}

func downloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}
