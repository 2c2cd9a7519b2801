package device

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id                     TEXT PRIMARY KEY,
			barcode                TEXT NOT NULL UNIQUE,
			serial_number          TEXT NOT NULL,
			device_type            TEXT NOT NULL,
			model                  TEXT,
			manufacturer_name      TEXT,
			supplier_name          TEXT,
			possession_state       TEXT NOT NULL DEFAULT 'with_supplier',
			version                INTEGER NOT NULL DEFAULT 0,
			last_movement_at       TEXT,
			linked_patient_id      TEXT,
			linked_prescription_id TEXT,
			notes                  TEXT,
			archived               INTEGER NOT NULL DEFAULT 0,
			created_at             TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at             TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_devices_possession_state ON devices(possession_state);
		CREATE INDEX idx_devices_serial_number ON devices(serial_number);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a device for testing.
func testDevice(barcode, serial string) *Device {
	supplier := "Acme Medical Supplies"
	manufacturer := "Signia"
	model := "Pure 312 7AX"
	return &Device{
		Barcode:          barcode,
		SerialNumber:     serial,
		DeviceType:       "hearing_aid",
		Model:            &model,
		ManufacturerName: &manufacturer,
		SupplierName:     &supplier,
	}
}

func TestSQLiteRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("inserts new device with initial state", func(t *testing.T) {
		d := testDevice("8680001000011", "SN-1001")

		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if d.ID == "" {
			t.Error("Upsert() did not assign an ID")
		}

		got, err := repo.GetByBarcode(ctx, "8680001000011")
		if err != nil {
			t.Fatalf("GetByBarcode() error = %v", err)
		}
		if got.PossessionState != StateWithSupplier {
			t.Errorf("PossessionState = %q, want %q", got.PossessionState, StateWithSupplier)
		}
		if got.Version != 0 {
			t.Errorf("Version = %d, want 0", got.Version)
		}
	})

	t.Run("re-upsert updates descriptive fields only", func(t *testing.T) {
		d := testDevice("8680001000028", "SN-1002")
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("first Upsert() error = %v", err)
		}
		firstID := d.ID

		// Simulate a committed movement bumping the projection.
		if _, err := db.Exec(
			`UPDATE devices SET possession_state = 'with_center', version = 3 WHERE barcode = ?`,
			"8680001000028"); err != nil {
			t.Fatalf("seeding projection: %v", err)
		}

		d2 := testDevice("8680001000028", "SN-1002")
		newModel := "Pure Charge&Go 7AX"
		d2.Model = &newModel

		if err := repo.Upsert(ctx, d2); err != nil {
			t.Fatalf("second Upsert() error = %v", err)
		}
		if d2.ID != firstID {
			t.Errorf("ID changed on re-upsert: %q -> %q", firstID, d2.ID)
		}

		got, err := repo.GetByBarcode(ctx, "8680001000028")
		if err != nil {
			t.Fatalf("GetByBarcode() error = %v", err)
		}
		if got.Model == nil || *got.Model != newModel {
			t.Errorf("Model not updated, got %v", got.Model)
		}
		if got.PossessionState != StateWithCenter {
			t.Errorf("re-upsert touched possession_state: %q", got.PossessionState)
		}
		if got.Version != 3 {
			t.Errorf("re-upsert touched version: %d", got.Version)
		}
	})

	t.Run("returns conflict for same barcode different serial", func(t *testing.T) {
		d := testDevice("8680001000035", "SN-1003")
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("first Upsert() error = %v", err)
		}

		d2 := testDevice("8680001000035", "SN-9999")
		err := repo.Upsert(ctx, d2)
		if !errors.Is(err, ErrBarcodeConflict) {
			t.Errorf("Upsert() error = %v, want ErrBarcodeConflict", err)
		}
	})

	t.Run("rejects invalid device", func(t *testing.T) {
		d := testDevice("", "SN-1004")
		err := repo.Upsert(ctx, d)
		if !errors.Is(err, ErrInvalidBarcode) {
			t.Errorf("Upsert() error = %v, want ErrInvalidBarcode", err)
		}
	})

	t.Run("concurrent upserts of the same device all succeed", func(t *testing.T) {
		// Two registrations of the same barcode and serial racing into the
		// insert: the loser of the unique constraint must degrade to the
		// descriptive update, not report a barcode conflict.
		const writers = 4
		errs := make([]error, writers)

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				errs[n] = repo.Upsert(ctx, testDevice("8680001000042", "SN-1005"))
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Errorf("Upsert() writer %d error = %v", i, err)
			}
		}

		var count int
		if err := db.QueryRow(
			`SELECT COUNT(*) FROM devices WHERE barcode = ?`, "8680001000042").Scan(&count); err != nil {
			t.Fatalf("counting devices: %v", err)
		}
		if count != 1 {
			t.Errorf("device rows = %d, want 1", count)
		}
	})
}

func TestSQLiteRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("8680001000042", "SN-2001")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Barcode != "8680001000042" {
		t.Errorf("Barcode = %q, want %q", got.Barcode, "8680001000042")
	}

	_, err = repo.GetByID(ctx, "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_FindBySerial(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Two manufacturers can reuse a serial; barcodes stay unique.
	d1 := testDevice("8680001000059", "SN-SHARED")
	d2 := testDevice("8680001000066", "SN-SHARED")
	for _, d := range []*Device{d1, d2} {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	got, err := repo.FindBySerial(ctx, "SN-SHARED")
	if err != nil {
		t.Fatalf("FindBySerial() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("FindBySerial() returned %d devices, want 2", len(got))
	}

	got, err = repo.FindBySerial(ctx, "SN-NONE")
	if err != nil {
		t.Fatalf("FindBySerial() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("FindBySerial(unknown) returned %d devices, want 0", len(got))
	}
}

func TestSQLiteRepository_ListByState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for i, barcode := range []string{"8680002000010", "8680002000027", "8680002000034"} {
		d := testDevice(barcode, "SN-300"+string(rune('1'+i)))
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	t.Run("lists devices in state", func(t *testing.T) {
		got, err := repo.ListByState(ctx, StateWithSupplier, Filter{})
		if err != nil {
			t.Fatalf("ListByState() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("ListByState() returned %d devices, want 3", len(got))
		}
	})

	t.Run("filter by supplier", func(t *testing.T) {
		got, err := repo.ListByState(ctx, StateWithSupplier, Filter{Supplier: "Nonexistent"})
		if err != nil {
			t.Fatalf("ListByState() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("ListByState() with unmatched filter returned %d devices, want 0", len(got))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		got, err := repo.ListByState(ctx, StateWithSupplier, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("ListByState() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("ListByState() page returned %d devices, want 1", len(got))
		}
	})

	t.Run("rejects unknown state", func(t *testing.T) {
		_, err := repo.ListByState(ctx, PossessionState("lost"), Filter{})
		if !errors.Is(err, ErrInvalidPossessionState) {
			t.Errorf("ListByState() error = %v, want ErrInvalidPossessionState", err)
		}
	})
}

func TestSQLiteRepository_CountByState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("8680003000019", "SN-4001")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	counts, err := repo.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState() error = %v", err)
	}
	if counts[StateWithSupplier] != 1 {
		t.Errorf("counts[with_supplier] = %d, want 1", counts[StateWithSupplier])
	}
	if counts[StateWithCenter] != 0 {
		t.Errorf("counts[with_center] = %d, want 0", counts[StateWithCenter])
	}
	if counts[StateWithConsumer] != 0 {
		t.Errorf("counts[with_consumer] = %d, want 0", counts[StateWithConsumer])
	}
}

func TestSQLiteRepository_Search(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("8680004000018", "SN-5001")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"matches barcode substring", "8680004", 1},
		{"matches serial case-insensitive", "sn-5001", 1},
		{"matches manufacturer", "signia", 1},
		{"matches model", "pure 312", 1},
		{"no match", "widex", 0},
		{"wildcard characters are literal", "%", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Search(ctx, tt.query, 0)
			if err != nil {
				t.Fatalf("Search(%q) error = %v", tt.query, err)
			}
			if len(got) != tt.want {
				t.Errorf("Search(%q) returned %d devices, want %d", tt.query, len(got), tt.want)
			}
		})
	}
}

func TestSQLiteRepository_LinkPatient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("8680005000017", "SN-6001")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := repo.LinkPatient(ctx, d.ID, "patient-42", "rx-99"); err != nil {
		t.Fatalf("LinkPatient() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LinkedPatientID == nil || *got.LinkedPatientID != "patient-42" {
		t.Errorf("LinkedPatientID = %v, want patient-42", got.LinkedPatientID)
	}
	if got.LinkedPrescriptionID == nil || *got.LinkedPrescriptionID != "rx-99" {
		t.Errorf("LinkedPrescriptionID = %v, want rx-99", got.LinkedPrescriptionID)
	}

	err = repo.LinkPatient(ctx, "missing", "patient-42", "rx-99")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("LinkPatient(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Archive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("8680006000016", "SN-7001")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := repo.Archive(ctx, d.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Archived {
		t.Error("Archived = false after Archive()")
	}

	// Archived devices drop out of listings and counts.
	listed, err := repo.ListByState(ctx, StateWithSupplier, Filter{})
	if err != nil {
		t.Fatalf("ListByState() error = %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("ListByState() returned %d archived devices, want 0", len(listed))
	}

	err = repo.Archive(ctx, "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Archive(missing) error = %v, want ErrDeviceNotFound", err)
	}
}
