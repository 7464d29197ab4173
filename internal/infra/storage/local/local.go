package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/EgorLis/my-media/internal/domain"
)

// Storage — BlobStorage поверх локального каталога.
type Storage struct {
	root   string
	logger *log.Logger

	// afterMkdir вызывается между созданием каталога и временного файла (тесты)
	afterMkdir func(dir string)
}

var _ domain.BlobStorage = (*Storage)(nil)

func New(root string, logger *log.Logger) (*Storage, error) {
	if root == "" {
		return nil, errors.New("local storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root %q: %w", abs, err)
	}
	return &Storage{root: abs, logger: logger}, nil
}

// resolve превращает ключ в путь внутри root; выход за пределы root — ошибка.
func (s *Storage) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("key escapes storage root: %q", key)
	}
	return p, nil
}

func (s *Storage) Write(ctx context.Context, key string, data []byte, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.resolve(key)
	if err != nil {
		return false, domain.StorageError("write", key, err)
	}
	// тот же контент всегда попадает в тот же путь: совпал размер — уже сохранено
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() && fi.Size() == int64(len(data)) {
		s.logger.Printf("write %s: already stored (%d bytes)", key, fi.Size())
		return false, nil
	}

	tmp, err := s.createTemp(key, filepath.Dir(p))
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // после успешного rename — no-op

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, domain.StorageError("write", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, domain.StorageError("sync", key, err)
	}
	if err := tmp.Close(); err != nil {
		return false, domain.StorageError("close", key, err)
	}
	// rename атомарен: параллельная запись тех же байт безвредна
	if err := os.Rename(tmpName, p); err != nil {
		return false, domain.StorageError("rename", key, err)
	}
	s.logger.Printf("write %s ok (%d bytes)", key, len(data))
	return true, nil
}

// createTemp создаёт временный файл рядом с целевым. Сборщик может успеть удалить
// опустевший каталог между MkdirAll и CreateTemp: тогда пробуем ещё раз.
func (s *Storage) createTemp(key, dir string) (*os.File, error) {
	for attempt := 1; ; attempt++ {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.StorageError("mkdir", key, err)
		}
		if s.afterMkdir != nil {
			s.afterMkdir(dir)
		}
		tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
		if err == nil {
			return tmp, nil
		}
		if attempt >= 2 || !errors.Is(err, fs.ErrNotExist) {
			return nil, domain.StorageError("create temp", key, err)
		}
		s.logger.Printf("write %s: dir pruned concurrently, retrying", key)
	}
}

func (s *Storage) Exists(_ context.Context, key string) (bool, int64, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, 0, domain.StorageError("stat", key, err)
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, domain.StorageError("stat", key, err)
	}
	return true, fi.Size(), nil
}

func (s *Storage) Read(_ context.Context, key string) ([]byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, domain.StorageError("read", key, err)
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, domain.StorageError("read", key, err)
	}
	return b, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return domain.StorageError("delete", key, err)
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// уже удалён прошлым прогоном
			return nil
		}
		return domain.StorageError("delete", key, err)
	}
	s.logger.Printf("delete %s ok", key)
	s.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

// pruneEmptyDirs убирает опустевшие шард-каталоги вверх до root.
func (s *Storage) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Storage) Ping(context.Context) error {
	fi, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("storage root %q is not a directory", s.root)
	}
	return nil
}
