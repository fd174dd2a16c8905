package qr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const defaultSize = 512

// Encoder turns a WireGuard configuration into a PNG image.
type Encoder interface {
	Encode(content string) ([]byte, error)
}

type PNGEncoder struct {
	Size int
}

func NewPNGEncoder(size int) *PNGEncoder {
	if size <= 0 {
		size = defaultSize
	}
	return &PNGEncoder{Size: size}
}

func (e *PNGEncoder) Encode(content string) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("qr: empty content")
	}
	png, err := qrcode.Encode(content, qrcode.Medium, e.Size)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	return png, nil
}

// Cache keeps the last QR image sent to each (user, server) on disk.
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "qrcodes"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("qr: create %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

func FileName(chatID int64, server string) string {
	return "wg_qrcode_" + strconv.FormatInt(chatID, 10) + "_" + server + ".png"
}

func (c *Cache) Path(chatID int64, server string) string {
	return filepath.Join(c.dir, FileName(chatID, server))
}

func (c *Cache) Save(chatID int64, server string, png []byte) (string, error) {
	path := c.Path(chatID, server)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, png, 0o640); err != nil {
		return "", fmt.Errorf("qr: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("qr: rename %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes the cached image. A missing file is not an error.
func (c *Cache) Remove(chatID int64, server string) error {
	path := c.Path(chatID, server)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", path).Msg("qr code already gone")
			return nil
		}
		return fmt.Errorf("qr: remove %s: %w", path, err)
	}
	return nil
}
