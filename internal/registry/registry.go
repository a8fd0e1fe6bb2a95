package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/internal/writer"
	"github.com/dshills/codevec/pkg/types"
)

var (
	// ErrProjectNotFound is returned when no project matches
	ErrProjectNotFound = errors.New("project not found")
	// ErrProjectExists is returned when a path is already registered
	ErrProjectExists = errors.New("project already registered")
)

// Migrations for the registry database
var Migrations = []storage.Migration{
	{
		Version: "1.0.0",
		Up: `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    path TEXT NOT NULL UNIQUE,
    database_path TEXT NOT NULL,
    created_at TEXT NOT NULL,
    last_indexed_at TEXT,
    status TEXT NOT NULL DEFAULT 'created',
    settings TEXT
);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
`,
	},
}

// Registry is a SQLite-backed project registry
type Registry struct {
	dataDir string
	db      *sql.DB
	wdb     *sql.DB
	queue   *writer.Queue
	logger  *slog.Logger
}

// Open opens the registry at <dataDir>/registry.db, creating it if needed
func Open(ctx context.Context, dataDir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "projects"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, "registry.db")
	busy := storage.DefaultOptions().BusyTimeout

	wdb, err := storage.OpenDB(path, busy, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	if err := storage.ApplyMigrations(ctx, wdb, Migrations); err != nil {
		_ = wdb.Close()
		return nil, fmt.Errorf("failed to migrate registry: %w", err)
	}
	db, err := storage.OpenDB(path, busy, false)
	if err != nil {
		_ = wdb.Close()
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	cfg := writer.DefaultConfig()
	cfg.Workers = 1
	cfg.Logger = logger
	queue := writer.New(wdb, cfg)
	if err := queue.Start(ctx); err != nil {
		_ = db.Close()
		_ = wdb.Close()
		return nil, err
	}

	return &Registry{dataDir: dataDir, db: db, wdb: wdb, queue: queue, logger: logger}, nil
}

// Close stops the writer and closes the database
func (r *Registry) Close() error {
	r.queue.Stop()
	return errors.Join(r.wdb.Close(), r.db.Close())
}

// CheckVectorSupport verifies the SQLite driver exposes the vector functions
func (r *Registry) CheckVectorSupport(ctx context.Context) error {
	return storage.CheckVectorExtension(ctx, r.db)
}

// ProjectID derives the id for an absolute project path
func ProjectID(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:16]
}

// DatabasePath returns where the project with id keeps its vectors
func (r *Registry) DatabasePath(id string) string {
	return filepath.Join(r.dataDir, "projects", id+".db")
}

// CreateProject registers path. ErrProjectExists is returned with the
// existing record when the path is already registered.
func (r *Registry) CreateProject(ctx context.Context, path, name string) (*types.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if existing, err := r.GetProjectByPath(ctx, abs); err == nil {
		return existing, ErrProjectExists
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	p := &types.Project{
		ID:           ProjectID(abs),
		Name:         name,
		Path:         abs,
		DatabasePath: r.DatabasePath(ProjectID(abs)),
		Status:       types.StatusCreated,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		Settings:     "{}",
	}
	return r.insertProject(ctx, p)
}

// insertProject stores p. A concurrent registration of the same path that
// won the insert is returned with ErrProjectExists.
func (r *Registry) insertProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	_, err := r.queue.Exec(ctx, `
		INSERT INTO projects (id, name, path, database_path, created_at, status, settings)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.DatabasePath, p.CreatedAt.Format(time.RFC3339), string(p.Status), p.Settings)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			existing, gerr := r.GetProjectByPath(ctx, p.Path)
			if gerr != nil {
				return nil, fmt.Errorf("failed to read existing project: %w", gerr)
			}
			return existing, ErrProjectExists
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	r.logger.Info("project registered", "id", p.ID, "path", p.Path)
	return p, nil
}

const projectColumns = `id, name, path, database_path, created_at, last_indexed_at, status, settings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p        types.Project
		created  string
		indexed  sql.NullString
		status   string
		settings sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &p.DatabasePath, &created, &indexed, &status, &settings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	st, err := types.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	p.Status = st
	p.Settings = settings.String
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		p.CreatedAt = t
	}
	if indexed.Valid && indexed.String != "" {
		if t, err := time.Parse(time.RFC3339, indexed.String); err == nil {
			p.LastIndexedAt = &t
		}
	}
	return &p, nil
}

// GetProject returns the project with id
func (r *Registry) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	return scanProject(row)
}

// GetProjectByPath returns the project registered for path
func (r *Registry) GetProjectByPath(ctx context.Context, path string) (*types.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE path = ?", abs)
	return scanProject(row)
}

// ListProjects returns every project ordered by name
func (r *Registry) ListProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateStatus sets a project's status, and its last-indexed time when
// lastIndexedAt is non-nil
func (r *Registry) UpdateStatus(ctx context.Context, id string, status types.Status, lastIndexedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidStatus, status)
	}

	var (
		res sql.Result
		err error
	)
	if lastIndexedAt != nil {
		res, err = r.queue.Exec(ctx, "UPDATE projects SET status = ?, last_indexed_at = ? WHERE id = ?",
			string(status), lastIndexedAt.UTC().Format(time.RFC3339), id)
	} else {
		res, err = r.queue.Exec(ctx, "UPDATE projects SET status = ? WHERE id = ?", string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// UpdateSettings replaces a project's settings blob
func (r *Registry) UpdateSettings(ctx context.Context, id, settings string) error {
	res, err := r.queue.Exec(ctx, "UPDATE projects SET settings = ? WHERE id = ?", settings, id)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// DeleteProject removes the registry record. The project database file is
// removed too when removeData is set.
func (r *Registry) DeleteProject(ctx context.Context, id string, removeData bool) error {
	p, err := r.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.queue.Exec(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if removeData {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(p.DatabasePath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("failed to remove project data", "path", p.DatabasePath+suffix, "error", err)
			}
		}
	}
	r.logger.Info("project removed", "id", id, "path", p.Path)
	return nil
}

// GetStats reads the storage counters of the database at databasePath. A
// missing database reports storage.ErrNotFound.
func (r *Registry) GetStats(ctx context.Context, databasePath string) (types.ProjectStats, error) {
	return storage.ReadStats(ctx, databasePath)
}
