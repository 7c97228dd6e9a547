package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// OpenStore opens (creating if needed) the SQLite device store at path.
func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*sqlstore.Container, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	db, err := sql.Open("sqlite", storeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Shown to the user under "Linked devices".
	store.DeviceProps.Os = proto.String("warelay")

	// whatsmeow's dialect name, independent of the registered driver name.
	container := sqlstore.NewWithDB(db, "sqlite3", NewSlogLogger(logger, "store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade session db: %w", err)
	}
	return container, nil
}

// ErrNoStore is returned by InspectStore when the store file does not exist.
var ErrNoStore = errors.New("session store not created yet")

// InspectStore reports the paired device in the store at path. Unlike
// OpenStore it neither creates nor migrates anything, so it is safe to run
// next to a live relay.
func InspectStore(ctx context.Context, path string, logger *slog.Logger) (jid string, paired bool, err error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, ErrNoStore
		}
		return "", false, fmt.Errorf("stat session db: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return "", false, fmt.Errorf("open session db: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", NewSlogLogger(logger, "store"))
	defer container.Close()
	return PairedDevice(ctx, container)
}

// PairedDevice reports the JID of the paired device in the store, if any.
func PairedDevice(ctx context.Context, container *sqlstore.Container) (string, bool, error) {
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return "", false, fmt.Errorf("load device: %w", err)
	}
	if device.ID == nil {
		return "", false, nil
	}
	return device.ID.String(), true, nil
}

func storeDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
