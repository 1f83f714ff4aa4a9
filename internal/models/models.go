package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a pallet cheque.
type Status string

const (
	StatusEmis   Status = "EMIS"
	StatusDepose Status = "DEPOSE"
	StatusRecu   Status = "RECU"
	StatusLitige Status = "LITIGE"
)

// chequeTransitions is the closed transition table. A transition absent from
// this table is invalid regardless of the caller.
var chequeTransitions = map[Status][]Status{
	StatusEmis:   {StatusDepose, StatusLitige},
	StatusDepose: {StatusRecu, StatusLitige},
	StatusRecu:   {StatusLitige},
	StatusLitige: {},
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range chequeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known cheque status.
func (s Status) Valid() bool {
	_, ok := chequeTransitions[s]
	return ok
}

// SitePriority ranks return sites when several are eligible.
type SitePriority string

const (
	PriorityInternal SitePriority = "INTERNAL"
	PriorityNetwork  SitePriority = "NETWORK"
	PriorityExternal SitePriority = "EXTERNAL"
)

// Rank returns the ordering weight of a priority tier, lower is better.
func (p SitePriority) Rank() int {
	switch p {
	case PriorityInternal:
		return 0
	case PriorityNetwork:
		return 1
	default:
		return 2
	}
}

// LedgerReason is the cause of a ledger entry.
type LedgerReason string

const (
	ReasonChequeReceived    LedgerReason = "CHEQUE_RECEIVED"
	ReasonDisputeAdjustment LedgerReason = "CHEQUE_DISPUTE_ADJUSTMENT"
	ReasonManualAdjustment  LedgerReason = "MANUAL_ADJUSTMENT"
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeOpen         DisputeStatus = "OPEN"
	DisputeAcknowledged DisputeStatus = "ACKNOWLEDGED"
	DisputeResolved     DisputeStatus = "RESOLVED"
	DisputeRejected     DisputeStatus = "REJECTED"
	DisputeClosed       DisputeStatus = "CLOSED"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeOpen:         {DisputeAcknowledged, DisputeResolved, DisputeRejected},
	DisputeAcknowledged: {DisputeResolved, DisputeRejected},
	DisputeResolved:     {DisputeClosed},
	DisputeRejected:     {DisputeClosed},
	DisputeClosed:       {},
}

// CanTransitionTo reports whether the dispute transition s -> next is allowed.
func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	for _, allowed := range disputeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the dispute still blocks its cheque.
func (s DisputeStatus) Open() bool {
	return s == DisputeOpen || s == DisputeAcknowledged
}

// DisputeReason is the claimed discrepancy type.
type DisputeReason string

const (
	DisputeQuantityMismatch DisputeReason = "QUANTITY_MISMATCH"
	DisputeDamagedPallets   DisputeReason = "DAMAGED_PALLETS"
	DisputeQualityClaim     DisputeReason = "QUALITY_CLAIM"
	DisputeOther            DisputeReason = "OTHER"
)

// GeoPoint is a WGS-84 coordinate pair, stored as jsonb.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Value implements driver.Valuer.
func (p GeoPoint) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *GeoPoint) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// Photo is a piece of photographic evidence attached to a cheque.
type Photo struct {
	Type string    `json:"type"`
	URL  string    `json:"url"`
	At   time.Time `json:"at"`
}

// PhotoList is an append-only list of photos, stored as jsonb.
type PhotoList []Photo

// Value implements driver.Valuer.
func (l PhotoList) Value() (driver.Value, error) {
	if l == nil {
		l = PhotoList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *PhotoList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// IntList is a jsonb-encoded list of integers (weekdays, 0=Sunday).
type IntList []int

// Value implements driver.Valuer.
func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		l = IntList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *IntList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// Contains reports whether day is in the list.
func (l IntList) Contains(day int) bool {
	for _, d := range l {
		if d == day {
			return true
		}
	}
	return false
}

// OpeningHours is a site's daily opening window, stored as jsonb.
type OpeningHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Value implements driver.Valuer.
func (h OpeningHours) Value() (driver.Value, error) {
	return json.Marshal(h)
}

// Scan implements sql.Scanner.
func (h *OpeningHours) Scan(value interface{}) error {
	return scanJSON(value, h)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.Errorf("unsupported jsonb source type %T", value)
	}
}

// Signatures groups the two party signatures of a cheque.
type Signatures struct {
	Transporter *string `json:"transporter"`
	Receiver    *string `json:"receiver"`
}

// Geolocations groups the two recorded transition locations of a cheque.
type Geolocations struct {
	Deposit *GeoPoint `json:"deposit"`
	Receipt *GeoPoint `json:"receipt"`
}

// Company is a platform participant (industry, transporter, logistician).
type Company struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Type      string         `json:"type"`
}

// Site is a pallet return site.
type Site struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	CompanyID string         `gorm:"not null;index" json:"companyId"`
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	GPS       GeoPoint       `gorm:"type:jsonb;not null" json:"gps"`
	Quota     *SiteQuota     `gorm:"foreignKey:SiteID" json:"-"`
}

// SiteQuota is a site's daily acceptance capacity. Consumed is only ever
// mutated through guarded updates so 0 <= consumed <= daily_max holds at all
// times.
type SiteQuota struct {
	SiteID        string       `gorm:"primaryKey" json:"siteId"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	DailyMax      int          `gorm:"not null;default:100" json:"dailyMax"`
	Consumed      int          `gorm:"not null;default:0" json:"consumed"`
	OpeningHours  OpeningHours `gorm:"type:jsonb" json:"openingHours"`
	AvailableDays IntList      `gorm:"type:jsonb" json:"availableDays"`
	Priority      SitePriority `gorm:"not null;default:NETWORK" json:"priority"`
	LastReset     string       `json:"lastReset"`
}

// Cheque is the signed record of a pallet return obligation. Rows are never
// deleted; RECU and LITIGE cheques are the audit trail.
type Cheque struct {
	ID                   string     `gorm:"primaryKey" json:"id"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"-"`
	OrderID              string     `gorm:"not null;index" json:"orderId"`
	FromCompanyID        string     `gorm:"not null;index" json:"fromCompanyId"`
	ToSiteID             string     `gorm:"not null;index" json:"toSiteId"`
	Quantity             int        `gorm:"not null" json:"quantity"`
	QuantityReceived     *int       `json:"quantityReceived,omitempty"`
	PalletType           string     `gorm:"not null;default:EURO_EPAL" json:"palletType"`
	TransporterPlate     string     `json:"transporterPlate"`
	QRCode               string     `gorm:"not null;uniqueIndex" json:"qrCode"`
	Status               Status     `gorm:"not null;index" json:"status"`
	CryptoSignature      string     `gorm:"not null" json:"cryptoSignature"`
	IdempotencyKey       *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"-"`
	TransporterSignature *string    `json:"-"`
	ReceiverSignature    *string    `json:"-"`
	DepositLocation      *GeoPoint  `gorm:"type:jsonb" json:"-"`
	ReceiptLocation      *GeoPoint  `gorm:"type:jsonb" json:"-"`
	Photos               PhotoList  `gorm:"type:jsonb" json:"photos"`
	DepositedAt          *time.Time `json:"depositedAt"`
	ReceivedAt           *time.Time `json:"receivedAt"`
	QuotaReleased        bool       `gorm:"not null;default:false" json:"-"`
}

// chequeJSON is the wire shape the frontends consume: signatures and
// geolocations nested the way the palettesApi clients expect.
type chequeJSON struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"createdAt"`
	OrderID          string       `json:"orderId"`
	FromCompanyID    string       `json:"fromCompanyId"`
	ToSiteID         string       `json:"toSiteId"`
	Quantity         int          `json:"quantity"`
	QuantityReceived *int         `json:"quantityReceived,omitempty"`
	PalletType       string       `json:"palletType"`
	TransporterPlate string       `json:"transporterPlate"`
	QRCode           string       `json:"qrCode"`
	Status           Status       `json:"status"`
	CryptoSignature  string       `json:"cryptoSignature"`
	Signatures       Signatures   `json:"signatures"`
	Geolocations     Geolocations `json:"geolocations"`
	Photos           PhotoList    `json:"photos"`
	DepositedAt      *time.Time   `json:"depositedAt"`
	ReceivedAt       *time.Time   `json:"receivedAt"`
}

// MarshalJSON renders the nested signatures/geolocations wire shape.
func (c Cheque) MarshalJSON() ([]byte, error) {
	photos := c.Photos
	if photos == nil {
		photos = PhotoList{}
	}
	return json.Marshal(chequeJSON{
		ID:               c.ID,
		CreatedAt:        c.CreatedAt,
		OrderID:          c.OrderID,
		FromCompanyID:    c.FromCompanyID,
		ToSiteID:         c.ToSiteID,
		Quantity:         c.Quantity,
		QuantityReceived: c.QuantityReceived,
		PalletType:       c.PalletType,
		TransporterPlate: c.TransporterPlate,
		QRCode:           c.QRCode,
		Status:           c.Status,
		CryptoSignature:  c.CryptoSignature,
		Signatures:       Signatures{Transporter: c.TransporterSignature, Receiver: c.ReceiverSignature},
		Geolocations:     Geolocations{Deposit: c.DepositLocation, Receipt: c.ReceiptLocation},
		Photos:           photos,
		DepositedAt:      c.DepositedAt,
		ReceivedAt:       c.ReceivedAt,
	})
}

// LedgerEntry is one immutable line of a company's pallet ledger. Seq is the
// per-company insertion order and the only ordering source of truth.
type LedgerEntry struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"date"`
	CompanyID  string       `gorm:"not null;uniqueIndex:idx_ledger_company_seq,priority:1" json:"companyId"`
	Seq        int64        `gorm:"not null;uniqueIndex:idx_ledger_company_seq,priority:2" json:"seq"`
	Delta      int          `gorm:"not null" json:"delta"`
	Reason     LedgerReason `gorm:"not null" json:"reason"`
	ChequeID   *string      `json:"chequeId,omitempty"`
	NewBalance int          `gorm:"not null" json:"newBalance"`
}

// Dispute is a claim of discrepancy against a cheque. PriorChequeStatus keeps
// the status the cheque held when the dispute was opened, so a rejected claim
// can restore it.
type Dispute struct {
	ID                string        `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"-"`
	ChequeID          string        `gorm:"not null;index" json:"chequeId"`
	ClaimantID        string        `gorm:"not null" json:"claimantId"`
	Reason            DisputeReason `gorm:"not null" json:"reason"`
	Photos            PhotoList     `gorm:"type:jsonb" json:"photos"`
	Comments          string        `json:"comments"`
	Status            DisputeStatus `gorm:"not null;index" json:"status"`
	PriorChequeStatus Status        `gorm:"not null" json:"-"`
	DisputedQuantity  int           `gorm:"not null;default:0" json:"disputedQuantity"`
	Resolution        *string       `json:"resolution"`
	ResolvedAt        *time.Time    `json:"resolvedAt"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Company{},
		&Site{},
		&SiteQuota{},
		&Cheque{},
		&LedgerEntry{},
		&Dispute{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
