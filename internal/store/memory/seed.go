package memory

import (
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpro/backend/internal/domain"
)

const (
	SeedStoreID        = "main-store"
	SeedAppointmentID  = "apt-001"
	SeedCustomerID     = "cus-sari"
	SeedPomadeID       = "prd-pomade"
	SeedShampooID      = "prd-shampoo"
	SeedTonicID        = "prd-tonic"
	SeedHaircutID      = "svc-haircut"
	SeedCreambathID    = "svc-creambath"
	SeedHairWashID     = "svc-hairwash"
	SeedStaffAndi      = "stf-andi"
	SeedStaffBudi      = "stf-budi"
	defaultAdminPass   = "admin123"
	defaultCashierPass = "cashier123"
)

// NewSeeded returns a store pre-filled with a small salon catalog, one
// in-progress appointment and the bootstrap users.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, item := range []domain.CatalogItem{
		{ID: SeedPomadeID, StoreID: SeedStoreID, Kind: domain.KindProduct, Name: "Pomade Matte", Price: 85000, BuyPrice: 60000},
		{ID: SeedShampooID, StoreID: SeedStoreID, Kind: domain.KindProduct, Name: "Shampoo Anti Ketombe", Price: 45000, BuyPrice: 30000},
		{ID: SeedTonicID, StoreID: SeedStoreID, Kind: domain.KindProduct, Name: "Hair Tonic", Price: 55000, BuyPrice: 38000},
		{ID: SeedHaircutID, StoreID: SeedStoreID, Kind: domain.KindService, Name: "Potong Rambut", Price: 50000, DurationMinutes: 30, RequiresStaff: true},
		{ID: SeedCreambathID, StoreID: SeedStoreID, Kind: domain.KindService, Name: "Creambath", Price: 100000, DurationMinutes: 60, RequiresStaff: true},
		{ID: SeedHairWashID, StoreID: SeedStoreID, Kind: domain.KindService, Name: "Cuci Rambut", Price: 25000, DurationMinutes: 15},
	} {
		s.catalog[item.ID] = item
	}
	s.stock[SeedPomadeID] = 20
	s.stock[SeedShampooID] = 5
	s.stock[SeedTonicID] = 12

	s.customers[SeedCustomerID] = domain.Customer{ID: SeedCustomerID, Name: "Sari", Email: "sari@example.com", Phone: "+6281200000001"}
	s.appointments[SeedAppointmentID] = domain.Appointment{
		ID:            SeedAppointmentID,
		StoreID:       SeedStoreID,
		CustomerID:    SeedCustomerID,
		Status:        domain.AppointmentInProgress,
		PaymentStatus: domain.AppointmentUnpaid,
		ScheduledAt:   now.Add(-30 * time.Minute),
		Services: []domain.BookedService{
			{ServiceID: SeedCreambathID, Name: "Creambath", StaffID: SeedStaffAndi, Price: 100000, DurationMinutes: 60},
		},
	}

	for _, user := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", defaultAdminPass, "admin"},
		{"cashier", "SEED_CASHIER_PASSWORD", defaultCashierPass, "cashier"},
	} {
		password := strings.TrimSpace(os.Getenv(user.envKey))
		if password == "" {
			password = user.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		s.users[user.username] = domain.UserAccount{
			Username:  user.username,
			Password:  string(hash),
			Role:      user.role,
			StoreID:   SeedStoreID,
			Active:    true,
			CreatedAt: now,
		}
	}

	return s
}
