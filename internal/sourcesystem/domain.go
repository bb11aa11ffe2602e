// Package sourcesystem describes the upstream systems whose exports are imported.
package sourcesystem

import (
	"context"
	"errors"
	"path"
	"strings"
)

// Provider identifies the storage backend a source system's files live in.
type Provider string

const (
	// ProviderLocal reads from a directory on local disk.
	ProviderLocal Provider = "local"
	// ProviderFileShare reads from a mounted network share.
	ProviderFileShare Provider = "fileshare"
	// ProviderBlob reads from an S3-compatible object store.
	ProviderBlob Provider = "blob"
)

const (
	defaultArchiveFolder = "Archive"
	defaultErrorFolder   = "Error"
	defaultFilePattern   = "*.xml"
)

// SourceSystem is the read-only import configuration of one upstream system.
type SourceSystem struct {
	ID              int64       `yaml:"id" validate:"gte=0"`
	Code            string      `yaml:"code" validate:"required,max=50"`
	Name            string      `yaml:"name"`
	Active          bool        `yaml:"active"`
	Provider        Provider    `yaml:"provider" validate:"required,oneof=local fileshare blob"`
	FolderPath      string      `yaml:"folder_path"`
	FilePattern     string      `yaml:"file_pattern"`
	ArchiveFolder   string      `yaml:"archive_folder"`
	ErrorFolder     string      `yaml:"error_folder"`
	TransformerType string      `yaml:"transformer_type"`
	Interface       string      `yaml:"interface" validate:"max=25"`
	TransactionType string      `yaml:"transaction_type" validate:"max=25"`
	BatchIDPrefix   string      `yaml:"batch_id_prefix" validate:"max=12"`
	DefaultCurrency string      `yaml:"default_currency" validate:"omitempty,len=3"`
	ReportSetup     ReportSetup `yaml:"report_setup"`
}

// ReportSetup configures the sibling reporting feature; the import pipeline ignores it.
type ReportSetup struct {
	ReportID   string `yaml:"report_id"`
	ReportName string `yaml:"report_name"`
	Variant    int    `yaml:"variant"`
	UserID     string `yaml:"user_id"`
	CompanyID  string `yaml:"company_id"`
}

// ApplyDefaults fills optional fields.
func (s *SourceSystem) ApplyDefaults() {
	s.Code = strings.TrimSpace(s.Code)
	s.Provider = Provider(strings.ToLower(strings.TrimSpace(string(s.Provider))))
	if s.Provider == "" {
		s.Provider = ProviderLocal
	}
	if strings.TrimSpace(s.FilePattern) == "" {
		s.FilePattern = defaultFilePattern
	}
	if strings.TrimSpace(s.ArchiveFolder) == "" {
		s.ArchiveFolder = defaultArchiveFolder
	}
	if strings.TrimSpace(s.ErrorFolder) == "" {
		s.ErrorFolder = defaultErrorFolder
	}
	s.DefaultCurrency = strings.ToUpper(strings.TrimSpace(s.DefaultCurrency))
}

// Matches reports whether a base file name matches the system's glob pattern.
func (s SourceSystem) Matches(name string) bool {
	pattern := s.FilePattern
	if pattern == "" {
		pattern = defaultFilePattern
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

// Lookup resolves source systems for a run.
type Lookup interface {
	ListActive(ctx context.Context) ([]SourceSystem, error)
	FindByCode(ctx context.Context, code string) (SourceSystem, error)
}

var (
	// ErrNotFound indicates an unknown source system code.
	ErrNotFound = errors.New("sourcesystem: not found")
)
