package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// maxDownloadSize caps the size of a remote source image.
const maxDownloadSize = 64 << 20

// sniffLen is the number of bytes http.DetectContentType looks at.
const sniffLen = 512

// imageExtensions maps the supported image content types to their file extension.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/bmp":  ".bmp",
}

// DownloadImage downloads a jpeg, png or bmp image into a temporary file named after its type.
// The caller owns the returned file and has to remove it.
func DownloadImage(url string) (*os.File, error) {
	res, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("unable to download image file from URI %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unable to download image file from URI %s, status %v", url, res.Status)
	}

	body := bufio.NewReaderSize(io.LimitReader(res.Body, maxDownloadSize+1), sniffLen)
	head, err := body.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}
	ext, ok := imageExtensions[sniff(head)]
	if !ok {
		return nil, fmt.Errorf("the downloaded file is not a supported image type")
	}

	tmpfile, err := os.CreateTemp("", "jda-image-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("unable to create temporary file: %w", err)
	}
	n, err := io.Copy(tmpfile, body)
	if err == nil && n > maxDownloadSize {
		err = fmt.Errorf("the image exceeds %d bytes", maxDownloadSize)
	}
	if err == nil {
		_, err = tmpfile.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
		return nil, fmt.Errorf("unable to copy the source URI into the destination file: %w", err)
	}
	return tmpfile, nil
}

// IsValidUrl tests a string to determine if it is a well-structured url or not.
func IsValidUrl(uri string) bool {
	if _, err := url.ParseRequestURI(uri); err != nil {
		return false
	}
	u, err := url.Parse(uri)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// IsImage reports whether the content type names one of the supported image formats.
func IsImage(ctype string) bool {
	_, ok := imageExtensions[ctype]
	return ok
}

// DetectContentType detects the file type by reading MIME type information of the file content.
func DetectContentType(fname string) (string, error) {
	file, err := os.Open(fname)
	if err != nil {
		return "", err
	}
	defer file.Close()

	buffer := make([]byte, sniffLen)
	n, err := io.ReadFull(file, buffer)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	return sniff(buffer[:n]), nil
}

// sniff returns the bare content type of data, without parameters.
func sniff(data []byte) string {
	ctype := http.DetectContentType(data)
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	return ctype
}
