package store

import (
	"crypto/rand"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment statuses
const (
	PaymentPending    = "pending"
	PaymentSuccessful = "successful"
	PaymentFailed     = "failed"
	// the gateway took the money but the target was already settled
	PaymentRefundDue  = "refund_due"
)

// Payment kinds, i.e. what a payment pays for
const (
	KindAppointment  = "appointment"
	KindOrder        = "order"
	KindSubscription = "subscription"
)

// Payee types of a commission split
const (
	PayeeDoctor   = "doctor"
	PayeePharmacy = "pharmacy"
	PayeePlatform = "platform"
)

// Prescription statuses
const (
	PrescriptionActive    = "active"
	PrescriptionForwarded = "forwarded"
	PrescriptionExpired   = "expired"
)

// Billing status of an appointment or order
const (
	BillingUnpaid = "unpaid"
	BillingPaid   = "paid"
	BillingWaived = "waived"
)

// Doctor is a practitioner and their fee schedule
type Doctor struct {
	ID               string          `gorm:"primaryKey" json:"id"`
	Name             string          `json:"name"`
	Specialty        string          `json:"specialty"`
	ConsultationFee  decimal.Decimal `gorm:"type:text" json:"consultation_fee"`
	FollowUpFee      decimal.Decimal `gorm:"type:text" json:"follow_up_fee"`
	FreeFollowUpDays int             `json:"free_follow_up_days"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Appointment is a booked consultation
type Appointment struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	PatientID     string          `gorm:"index" json:"patient_id"`
	DoctorID      string          `gorm:"index:idx_doctor_start" json:"doctor_id"`
	StartAt       time.Time       `gorm:"index:idx_doctor_start" json:"start_at"`
	DurationMins  int             `json:"duration_mins"`
	ConsultType   string          `json:"consult_type"`
	Telemedicine  bool            `json:"telemedicine"`
	Reason        string          `json:"reason"`
	Status        string          `gorm:"index" json:"status"`
	Fee           decimal.Decimal `gorm:"type:text" json:"fee"`
	BillingStatus string          `json:"billing_status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Duration is the booked length of the appointment
func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMins) * time.Minute
}

// Prescription is issued at the end of a completed appointment
type Prescription struct {
	ID            string             `gorm:"primaryKey" json:"id"`
	AppointmentID string             `gorm:"uniqueIndex" json:"appointment_id"`
	PatientID     string             `gorm:"index" json:"patient_id"`
	DoctorID      string             `json:"doctor_id"`
	Diagnosis     string             `json:"diagnosis"`
	Notes         string             `json:"notes"`
	Status        string             `gorm:"index" json:"status"`
	ExpiresAt     time.Time          `json:"expires_at"`
	Items         []PrescriptionItem `gorm:"foreignKey:PrescriptionID" json:"items"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// PrescriptionItem is one prescribed medication
type PrescriptionItem struct {
	ID             string `gorm:"primaryKey" json:"id"`
	PrescriptionID string `gorm:"index" json:"prescription_id"`
	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency"`
	Quantity       int    `json:"quantity"`
}

// Pharmacy is a dispensing pharmacy
type Pharmacy struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	OffersDelivery bool            `json:"offers_delivery"`
	Active         bool            `gorm:"index" json:"active"`
	Inventory      []InventoryItem `gorm:"foreignKey:PharmacyID" json:"inventory,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// InventoryItem is a pharmacy's stock of one medication
type InventoryItem struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	PharmacyID     string          `gorm:"index" json:"pharmacy_id"`
	MedicationName string          `json:"medication_name"`
	Price          decimal.Decimal `gorm:"type:text" json:"price"`
	Quantity       int             `json:"quantity"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MedicationOrder is a prescription forwarded to a pharmacy. PolicyID and
// DeductibleApplied record what the order consumed of the patient's cover.
type MedicationOrder struct {
	ID                string          `gorm:"primaryKey" json:"id"`
	PrescriptionID    string          `gorm:"uniqueIndex" json:"prescription_id"`
	PharmacyID        string          `gorm:"index" json:"pharmacy_id"`
	PatientID         string          `gorm:"index" json:"patient_id"`
	Status            string          `gorm:"index" json:"status"`
	Delivery          bool            `json:"delivery"`
	Total             decimal.Decimal `gorm:"type:text" json:"total"`
	CoveredAmount     decimal.Decimal `gorm:"type:text" json:"covered_amount"`
	PatientCopay      decimal.Decimal `gorm:"type:text" json:"patient_copay"`
	PolicyID          *string         `json:"policy_id,omitempty"`
	DeductibleApplied decimal.Decimal `gorm:"type:text" json:"deductible_applied"`
	ClaimID           *string         `json:"claim_id,omitempty"`
	BillingStatus     string          `json:"billing_status"`
	Items             []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// OrderItem is a priced order line
type OrderItem struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	OrderID        string          `gorm:"index" json:"order_id"`
	MedicationName string          `json:"medication_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:text" json:"unit_price"`
	Total          decimal.Decimal `gorm:"type:text" json:"total"`
}

// InsurancePolicy is a patient's cover. A zero AnnualLimit is unlimited.
type InsurancePolicy struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	PatientID     string          `gorm:"index" json:"patient_id"`
	PolicyNumber  string          `gorm:"uniqueIndex" json:"policy_number"`
	PlanType      string          `json:"plan_type"`
	Active        bool            `json:"active"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	DeductibleMet decimal.Decimal `gorm:"type:text" json:"deductible_met"`
	AnnualLimit   decimal.Decimal `gorm:"type:text" json:"annual_limit"`
	LimitUsed     decimal.Decimal `gorm:"type:text" json:"limit_used"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InForce reports whether the policy covers services on the given day
func (p *InsurancePolicy) InForce(at time.Time) bool {
	return p.Active && !at.Before(p.StartDate) && at.Before(p.EndDate)
}

// InsuranceClaim is a claim raised against a policy for an order
type InsuranceClaim struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	ClaimNumber    string          `gorm:"uniqueIndex" json:"claim_number"`
	PolicyID       string          `gorm:"index" json:"policy_id"`
	PatientID      string          `gorm:"index" json:"patient_id"`
	OrderID        string          `gorm:"index" json:"order_id"`
	ServiceType    string          `json:"service_type"`
	Status         string          `gorm:"index" json:"status"`
	ClaimedAmount  decimal.Decimal `gorm:"type:text" json:"claimed_amount"`
	ApprovedAmount decimal.Decimal `gorm:"type:text" json:"approved_amount"`
	PatientCopay   decimal.Decimal `gorm:"type:text" json:"patient_copay"`
	Notes          string          `json:"notes"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Payment is a patient payment awaiting or past gateway verification
type Payment struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Reference   string          `gorm:"uniqueIndex" json:"reference"`
	PayerID     string          `gorm:"index" json:"payer_id"`
	Kind        string          `json:"kind"`
	TargetID    string          `gorm:"index" json:"target_id"`
	Amount      decimal.Decimal `gorm:"type:text" json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `gorm:"index" json:"status"`
	GatewayTxID string          `json:"gateway_tx_id,omitempty"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CommissionRecord is the platform/payee split of one verified payment
type CommissionRecord struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	PaymentID  string          `gorm:"uniqueIndex" json:"payment_id"`
	Service    string          `json:"service"`
	PayeeType  string          `gorm:"index:idx_payee" json:"payee_type"`
	PayeeID    string          `gorm:"index:idx_payee" json:"payee_id"`
	Gross      decimal.Decimal `gorm:"type:text" json:"gross"`
	Rate       decimal.Decimal `gorm:"type:text" json:"rate"`
	Commission decimal.Decimal `gorm:"type:text" json:"commission"`
	Net        decimal.Decimal `gorm:"type:text" json:"net"`
	ClampedBy  string          `json:"clamped_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Subscription is a user's premium plan
type Subscription struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex" json:"user_id"`
	Plan      string    `json:"plan"`
	Period    string    `json:"period"`
	Active    bool      `gorm:"index" json:"active"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VitalReading is one measurement of a vital sign
type VitalReading struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	PatientID  string    `gorm:"index:idx_patient_kind" json:"patient_id"`
	Kind       string    `gorm:"index:idx_patient_kind" json:"kind"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (d *Doctor) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = generateID("doc")
	}
	return nil
}

func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = generateID("appt")
	}
	if a.BillingStatus == "" {
		a.BillingStatus = BillingUnpaid
	}
	return nil
}

func (p *Prescription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateID("rx")
	}
	if p.Status == "" {
		p.Status = PrescriptionActive
	}
	return nil
}

func (i *PrescriptionItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = generateID("rxi")
	}
	return nil
}

func (p *Pharmacy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateID("ph")
	}
	return nil
}

func (i *InventoryItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = generateID("inv")
	}
	return nil
}

func (o *MedicationOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = generateID("ord")
	}
	if o.BillingStatus == "" {
		o.BillingStatus = BillingUnpaid
	}
	return nil
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = generateID("ordi")
	}
	return nil
}

func (p *InsurancePolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateID("pol")
	}
	return nil
}

func (c *InsuranceClaim) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateID("clm")
	}
	return nil
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateID("pay")
	}
	if p.Status == "" {
		p.Status = PaymentPending
	}
	return nil
}

func (c *CommissionRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateID("com")
	}
	return nil
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateID("sub")
	}
	return nil
}

func (v *VitalReading) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = generateID("vit")
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now()
	}
	return nil
}

// generateID creates a unique ID with nanosecond precision
func generateID(prefix string) string {
	return prefix + "_" + time.Now().Format("20060102150405") + "_" + randomString(8)
}

// randomString generates a cryptographically secure random string
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
