package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

// ==================== Doctor Methods ====================

func (s *Store) CreateDoctor(d *Doctor) error {
	return s.db.Create(d).Error
}

func (s *Store) GetDoctor(id string) (*Doctor, error) {
	var d Doctor
	if err := s.db.First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrNotFound, "doctor "+id)
	}
	return &d, nil
}

// ==================== Appointment Methods ====================

func (s *Store) CreateAppointment(a *Appointment) error {
	return s.db.Create(a).Error
}

func (s *Store) GetAppointment(id string) (*Appointment, error) {
	var a Appointment
	if err := s.db.First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrAppointmentNotFound, id)
	}
	return &a, nil
}

func (s *Store) SaveAppointment(a *Appointment) error {
	return s.db.Save(a).Error
}

// ListAppointments lists a patient's appointments, newest first
func (s *Store) ListAppointments(patientID string, limit, offset int) ([]Appointment, error) {
	var appts []Appointment
	err := s.db.Where("patient_id = ?", patientID).
		Order("start_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&appts).Error
	return appts, err
}

// DoctorAppointments returns the doctor's appointments starting in [from, to)
func (s *Store) DoctorAppointments(doctorID string, from, to time.Time) ([]Appointment, error) {
	var appts []Appointment
	err := s.db.Where("doctor_id = ? AND start_at >= ? AND start_at < ?", doctorID, from, to).
		Order("start_at ASC").
		Find(&appts).Error
	return appts, err
}

// LastCompletedVisit returns when the patient last completed an appointment
// with the doctor, or nil if never
func (s *Store) LastCompletedVisit(patientID, doctorID string) (*time.Time, error) {
	var a Appointment
	err := s.db.Where("patient_id = ? AND doctor_id = ? AND status = ?", patientID, doctorID, "completed").
		Order("start_at DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a.StartAt, nil
}

// OpenAppointmentsBefore returns scheduled or confirmed appointments that
// started before t
func (s *Store) OpenAppointmentsBefore(t time.Time) ([]Appointment, error) {
	var appts []Appointment
	err := s.db.Where("status IN ? AND start_at < ?", []string{"scheduled", "confirmed"}, t).
		Order("start_at ASC").
		Find(&appts).Error
	return appts, err
}

// ==================== Prescription Methods ====================

// CreatePrescription creates a prescription together with its items
func (s *Store) CreatePrescription(p *Prescription) error {
	return s.db.Create(p).Error
}

func (s *Store) GetPrescription(id string) (*Prescription, error) {
	var p Prescription
	if err := s.db.Preload("Items").First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrPrescriptionNotFound, id)
	}
	return &p, nil
}

// PrescriptionForAppointment returns the prescription issued for an
// appointment, or nil if there is none
func (s *Store) PrescriptionForAppointment(appointmentID string) (*Prescription, error) {
	var p Prescription
	err := s.db.Preload("Items").First(&p, "appointment_id = ?", appointmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePrescriptionStatus sets the status of a prescription
func (s *Store) UpdatePrescriptionStatus(id, status string) error {
	return s.db.Model(&Prescription{}).Where("id = ?", id).Update("status", status).Error
}

// ExpirePrescriptions marks active prescriptions past their expiry as expired
func (s *Store) ExpirePrescriptions(now time.Time) (int64, error) {
	res := s.db.Model(&Prescription{}).
		Where("status = ? AND expires_at < ?", PrescriptionActive, now).
		Update("status", PrescriptionExpired)
	return res.RowsAffected, res.Error
}

// ==================== Pharmacy Methods ====================

func (s *Store) CreatePharmacy(p *Pharmacy) error {
	return s.db.Create(p).Error
}

// GetPharmacy returns a pharmacy with its inventory
func (s *Store) GetPharmacy(id string) (*Pharmacy, error) {
	var p Pharmacy
	if err := s.db.Preload("Inventory").First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrPharmacyNotFound, id)
	}
	return &p, nil
}

func (s *Store) ListActivePharmacies() ([]Pharmacy, error) {
	var ps []Pharmacy
	err := s.db.Where("active = ?", true).Order("name ASC").Find(&ps).Error
	return ps, err
}

// SaveInventoryItem inserts or updates a stock entry
func (s *Store) SaveInventoryItem(i *InventoryItem) error {
	if i.ID == "" {
		return s.db.Create(i).Error
	}
	return s.db.Save(i).Error
}

// TakeStock reduces the stock of an inventory item. It fails without
// changing anything if less than qty is left.
func (s *Store) TakeStock(itemID string, qty int) error {
	res := s.db.Model(&InventoryItem{}).
		Where("id = ? AND quantity >= ?", itemID, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.With(apperrors.ErrNothingInStock, "inventory item %s", itemID)
	}
	return nil
}

// ReturnStock puts qty units of a medication back into a pharmacy's stock
func (s *Store) ReturnStock(pharmacyID, medicationName string, qty int) error {
	return s.db.Model(&InventoryItem{}).
		Where("pharmacy_id = ? AND LOWER(medication_name) = LOWER(?)", pharmacyID, medicationName).
		Update("quantity", gorm.Expr("quantity + ?", qty)).Error
}

// ==================== Order Methods ====================

// CreateOrder creates an order together with its items
func (s *Store) CreateOrder(o *MedicationOrder) error {
	return s.db.Create(o).Error
}

func (s *Store) GetOrder(id string) (*MedicationOrder, error) {
	var o MedicationOrder
	if err := s.db.Preload("Items").First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrOrderNotFound, id)
	}
	return &o, nil
}

// SaveOrder updates an order's own columns; items are left alone
func (s *Store) SaveOrder(o *MedicationOrder) error {
	return s.db.Omit("Items").Save(o).Error
}

func (s *Store) ListOrders(patientID string, limit, offset int) ([]MedicationOrder, error) {
	var orders []MedicationOrder
	err := s.db.Preload("Items").
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	return orders, err
}

// ==================== Insurance Methods ====================

func (s *Store) CreatePolicy(p *InsurancePolicy) error {
	return s.db.Create(p).Error
}

func (s *Store) GetPolicy(id string) (*InsurancePolicy, error) {
	var p InsurancePolicy
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrNotFound, "policy "+id)
	}
	return &p, nil
}

func (s *Store) SavePolicy(p *InsurancePolicy) error {
	return s.db.Save(p).Error
}

// ActivePolicy returns the patient's policy in force at the given time, or
// nil if there is none
func (s *Store) ActivePolicy(patientID string, at time.Time) (*InsurancePolicy, error) {
	var p InsurancePolicy
	err := s.db.Where("patient_id = ? AND active = ? AND start_date <= ? AND end_date > ?", patientID, true, at, at).
		Order("start_date DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateClaim(c *InsuranceClaim) error {
	return s.db.Create(c).Error
}

func (s *Store) GetClaim(id string) (*InsuranceClaim, error) {
	var c InsuranceClaim
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrClaimNotFound, id)
	}
	return &c, nil
}

func (s *Store) SaveClaim(c *InsuranceClaim) error {
	return s.db.Save(c).Error
}

// ListClaims lists the claims against a policy, newest first
func (s *Store) ListClaims(policyID string) ([]InsuranceClaim, error) {
	var claims []InsuranceClaim
	err := s.db.Where("policy_id = ?", policyID).Order("submitted_at DESC").Find(&claims).Error
	return claims, err
}

// ==================== Payment Methods ====================

func (s *Store) CreatePayment(p *Payment) error {
	return s.db.Create(p).Error
}

func (s *Store) GetPaymentByReference(ref string) (*Payment, error) {
	var p Payment
	if err := s.db.First(&p, "reference = ?", ref).Error; err != nil {
		return nil, notFound(err, apperrors.ErrPaymentNotFound, ref)
	}
	return &p, nil
}

// OpenPayment returns the payer's pending payment for a target, or nil
func (s *Store) OpenPayment(kind, targetID, payerID string) (*Payment, error) {
	var p Payment
	err := s.db.Where("kind = ? AND target_id = ? AND payer_id = ? AND status = ?", kind, targetID, payerID, PaymentPending).
		Order("created_at ASC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePayment(p *Payment) error {
	return s.db.Save(p).Error
}

func (s *Store) CreateCommission(c *CommissionRecord) error {
	return s.db.Create(c).Error
}

// CommissionForPayment returns the split recorded for a payment, or nil
func (s *Store) CommissionForPayment(paymentID string) (*CommissionRecord, error) {
	var c CommissionRecord
	err := s.db.First(&c, "payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommissions lists the splits paid out to one payee
func (s *Store) ListCommissions(payeeType, payeeID string) ([]CommissionRecord, error) {
	var recs []CommissionRecord
	q := s.db.Where("payee_type = ?", payeeType)
	if payeeID != "" {
		q = q.Where("payee_id = ?", payeeID)
	}
	err := q.Order("created_at DESC").Find(&recs).Error
	return recs, err
}

// ==================== Subscription Methods ====================

// GetSubscription returns the user's subscription, or nil if they never had one
func (s *Store) GetSubscription(userID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.First(&sub, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) SaveSubscription(sub *Subscription) error {
	if sub.ID == "" {
		return s.db.Create(sub).Error
	}
	return s.db.Save(sub).Error
}

// ExpireSubscriptions deactivates active subscriptions that ended before now
func (s *Store) ExpireSubscriptions(now time.Time) (int64, error) {
	res := s.db.Model(&Subscription{}).
		Where("active = ? AND ends_at < ?", true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// ==================== Vital Methods ====================

func (s *Store) CreateVital(v *VitalReading) error {
	return s.db.Create(v).Error
}

// RecentVitals returns the newest readings of one kind, oldest first
func (s *Store) RecentVitals(patientID, kind string, limit int) ([]VitalReading, error) {
	var vs []VitalReading
	err := s.db.Where("patient_id = ? AND kind = ?", patientID, kind).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&vs).Error
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
	return vs, err
}
