// Package domain defines the persistence models for the circulation core:
// titles, copies, readers, loans, reservations, extension requests and the
// two append-only audit logs. These types are mapped with GORM and shared
// across the repository, service and transport layers.
package domain

import "time"

// Title is the catalog record for a work, keyed by ISBN. Titles are produced
// by the cataloging pipeline and are read-only here except for call-number
// correction.
type Title struct {
	ISBN           string    `json:"isbn"            gorm:"type:varchar(20);primaryKey"`
	CallNumber     string    `json:"call_number"     gorm:"type:varchar(50);not null"`
	Name           string    `json:"name"            gorm:"type:varchar(255);not null;index:idx_title_name"`
	Author         string    `json:"author"          gorm:"type:varchar(100);not null;index:idx_title_author"`
	Classification string    `json:"classification"  gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time `json:"created_at"`

	// Declared on the parent so the foreign keys land on copies and
	// reservation_requests.
	Copies       []Copy               `json:"-" gorm:"foreignKey:ISBN;references:ISBN;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Reservations []ReservationRequest `json:"-" gorm:"foreignKey:ISBN;references:ISBN;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Title.
func (Title) TableName() string { return "titles" }

// Copy is one physical, barcoded instance of a Title.
//
// Fields:
//   - Barcode: opaque unique identifier printed on the item.
//   - ISBN: owning title (many copies per title).
//   - Location: shelf/room code.
//   - Status: lifecycle state, see CopyStatus.
//   - EnteredAt: when the copy was put into circulation.
type Copy struct {
	Barcode   string     `json:"barcode"    gorm:"type:varchar(32);primaryKey"`
	ISBN      string     `json:"isbn"       gorm:"type:varchar(20);not null;index:idx_copy_isbn_status,priority:1"`
	Location  string     `json:"location"   gorm:"type:varchar(50);not null"`
	Status    CopyStatus `json:"status"     gorm:"type:varchar(16);not null;index:idx_copy_isbn_status,priority:2;check:status IN ('in_stock','borrowed','held','damaged')"`
	EnteredAt time.Time  `json:"entered_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at"`

	Loans []BorrowRecord `json:"-" gorm:"foreignKey:Barcode;references:Barcode;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Copy.
func (Copy) TableName() string { return "copies" }

// Reader is a registered patron. Credit is the only quantity gating borrow,
// reserve and extend actions and always stays within [MinCredit, MaxCredit].
type Reader struct {
	ID        string     `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string     `json:"name"       gorm:"type:varchar(100);not null"`
	Credit    int        `json:"credit"     gorm:"not null;check:credit BETWEEN 0 AND 100"`
	Role      ReaderRole `json:"role"       gorm:"type:varchar(16);not null"`
	ExpiresOn time.Time  `json:"expires_on" gorm:"not null"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Reader.
func (Reader) TableName() string { return "readers" }

// BorrowRecord is one loan of a copy to a reader. At most one record per
// barcode is Active at any time.
type BorrowRecord struct {
	ID         uint64       `json:"id"                    gorm:"primaryKey;autoIncrement"`
	ReaderID   string       `json:"reader_id"             gorm:"type:varchar(64);not null;index:idx_borrow_reader_status,priority:1"`
	Barcode    string       `json:"barcode"               gorm:"type:varchar(32);not null;index:idx_borrow_barcode_status,priority:1"`
	BorrowedAt time.Time    `json:"borrowed_at"           gorm:"not null"`
	DueAt      time.Time    `json:"due_at"                gorm:"not null;index"`
	ReturnedAt *time.Time   `json:"returned_at,omitempty"`
	Status     BorrowStatus `json:"status"                gorm:"type:varchar(20);not null;index:idx_borrow_reader_status,priority:2;index:idx_borrow_barcode_status,priority:2;check:status IN ('active','returned_on_time','returned_late')"`

	Reader Reader `json:"-" gorm:"foreignKey:ReaderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for BorrowRecord.
func (BorrowRecord) TableName() string { return "borrow_records" }

// ReservationRequest is a place in the per-title waiting list. Barcode is nil
// until a returned copy is allocated to the request.
type ReservationRequest struct {
	ID          uint64            `json:"id"                gorm:"primaryKey;autoIncrement"`
	ReaderID    string            `json:"reader_id"         gorm:"type:varchar(64);not null;index:idx_resv_reader_status,priority:1"`
	ISBN        string            `json:"isbn"              gorm:"type:varchar(20);not null;index:idx_resv_isbn_status,priority:1"`
	Barcode     *string           `json:"barcode,omitempty" gorm:"type:varchar(32)"`
	RequestedAt time.Time         `json:"requested_at"      gorm:"not null;index:idx_resv_isbn_status,priority:3"`
	ExpiresAt   time.Time         `json:"expires_at"        gorm:"not null"`
	Status      ReservationStatus `json:"status"            gorm:"type:varchar(16);not null;index:idx_resv_reader_status,priority:2;index:idx_resv_isbn_status,priority:2;check:status IN ('queued','allocated','fulfilled','expired')"`

	Reader Reader `json:"-" gorm:"foreignKey:ReaderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for ReservationRequest.
func (ReservationRequest) TableName() string { return "reservation_requests" }

// ExtensionRequest asks for a loan's due date to be pushed back by Days.
type ExtensionRequest struct {
	ID         uint64          `json:"id"                    gorm:"primaryKey;autoIncrement"`
	ReaderID   string          `json:"reader_id"             gorm:"type:varchar(64);not null;index"`
	BorrowID   uint64          `json:"borrow_id"             gorm:"not null;index:idx_ext_borrow_status,priority:1"`
	Days       int             `json:"days"                  gorm:"not null;check:days > 0"`
	Reason     string          `json:"reason"                gorm:"type:varchar(255);not null"`
	Status     ExtensionStatus `json:"status"                gorm:"type:varchar(16);not null;index:idx_ext_borrow_status,priority:2;check:status IN ('pending','approved','rejected')"`
	ReviewedBy string          `json:"reviewed_by,omitempty" gorm:"type:varchar(64)"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	Borrow BorrowRecord `json:"-" gorm:"foreignKey:BorrowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ExtensionRequest.
func (ExtensionRequest) TableName() string { return "extension_requests" }

// CreditLogEntry is one append-only ledger row. Delta is the change actually
// applied after clamping, not the change that was requested.
type CreditLogEntry struct {
	ID        uint64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	ReaderID  string    `json:"reader_id"  gorm:"type:varchar(64);not null;index:idx_credit_reader_time,priority:1"`
	Delta     int       `json:"delta"      gorm:"not null"`
	Requested int       `json:"requested"  gorm:"not null"`
	Balance   int       `json:"balance"    gorm:"not null"`
	Reason    string    `json:"reason"     gorm:"type:varchar(255);not null"`
	Operator  string    `json:"operator"   gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_credit_reader_time,priority:2"`
}

// TableName returns the database table name for CreditLogEntry.
func (CreditLogEntry) TableName() string { return "credit_log" }

// DamageLogEntry is the audit trail for a retired copy.
type DamageLogEntry struct {
	ID        uint64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	Barcode   string    `json:"barcode"    gorm:"type:varchar(32);not null;index"`
	ISBN      string    `json:"isbn"       gorm:"type:varchar(20);not null"`
	Reason    string    `json:"reason"     gorm:"type:varchar(255);not null"`
	Operator  string    `json:"operator"   gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
}

// TableName returns the database table name for DamageLogEntry.
func (DamageLogEntry) TableName() string { return "damage_log" }

// JobRun records one execution of a maintenance job.
type JobRun struct {
	ID         uint64    `json:"id"          gorm:"primaryKey;autoIncrement"`
	Job        string    `json:"job"         gorm:"type:varchar(64);not null;index:idx_job_started,priority:1"`
	StartedAt  time.Time `json:"started_at"  gorm:"not null;index:idx_job_started,priority:2"`
	FinishedAt time.Time `json:"finished_at" gorm:"not null"`
	Affected   int       `json:"affected"    gorm:"not null"`
	Failed     int       `json:"failed"      gorm:"not null"`
	Trigger    string    `json:"trigger"     gorm:"column:triggered_by;type:varchar(32);not null"`
}

// TableName returns the database table name for JobRun.
func (JobRun) TableName() string { return "job_runs" }

// JobLease marks a maintenance job as running. Holder owns the row until it
// deletes it or LeaseUntil passes.
type JobLease struct {
	Job        string    `json:"job"         gorm:"primaryKey;type:varchar(64)"`
	Holder     string    `json:"holder"      gorm:"type:varchar(64);not null"`
	LeaseUntil time.Time `json:"lease_until" gorm:"not null"`
}

// TableName returns the database table name for JobLease.
func (JobLease) TableName() string { return "job_leases" }
