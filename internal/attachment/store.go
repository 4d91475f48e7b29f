// Package attachment отвечает за хранение файлов подтверждения оплаты.
package attachment

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store сохраняет файл подтверждения и возвращает публичную ссылку на него.
// Ссылка существует только после успешного сохранения файла, поэтому
// карточка абонента никогда не ссылается на несуществующий файл.
type Store interface {
	Save(filename string, data io.Reader) (string, error)
}

// FileStore хранит файлы в локальном каталоге и отдаёт их по базовому URL.
type FileStore struct {
	dir     string
	baseURL string
}

// NewFileStore создаёт хранилище файлов в каталоге dir.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save записывает файл под уникальным именем и возвращает ссылку.
// Исходное имя используется только ради расширения.
func (s *FileStore) Save(filename string, data io.Reader) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))

	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("create attachment file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("write attachment file: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close attachment file: %w", err)
	}

	return s.baseURL + "/" + path.Base(name), nil
}

// Dir возвращает каталог хранилища для раздачи файлов по HTTP.
func (s *FileStore) Dir() string {
	return s.dir
}
