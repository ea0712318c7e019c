package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Ensemble/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format — формат файла описания.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnknownFormat — расширение файла не поддерживается.
var ErrUnknownFormat = errors.New("unknown descriptor format")

// Extensions — поддерживаемые расширения файлов.
var Extensions = []string{".yaml", ".yml", ".json"}

// FormatOf определяет формат по расширению файла.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Parse разбирает описание ensemble. Неизвестные поля — ошибка.
func Parse(data []byte, format Format) (*domain.Ensemble, error) {
	var ens domain.Ensemble

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&ens); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ens); err != nil {
			return nil, fmt.Errorf("unmarshal json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	if ens.Name == "" {
		return nil, errors.New("ensemble name is required")
	}
	return &ens, nil
}

// LoadFile читает описание ensemble из файла.
func LoadFile(path string) (*domain.Ensemble, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ens, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ens, nil
}

// LoadDir читает все описания из каталога (без рекурсии), в порядке имён файлов.
func LoadDir(dir string) ([]*domain.Ensemble, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := FormatOf(e.Name()); err == nil {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	out := make([]*domain.Ensemble, 0, len(files))
	for _, f := range files {
		ens, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, ens)
	}
	return out, nil
}
