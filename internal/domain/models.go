package domain

import "time"

type Apartment struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DefaultPrice float64  `json:"default_price"`
	CleaningFee  *float64 `json:"cleaning_fee,omitempty"`
	Capacity     int      `json:"capacity"`
}

type ApartmentUpsertRequest struct {
	Name         string   `json:"name"`
	DefaultPrice float64  `json:"default_price"`
	CleaningFee  *float64 `json:"cleaning_fee,omitempty"`
	Capacity     int      `json:"capacity"`
}

type ApartmentRate struct {
	ApartmentID string    `json:"apartment_id"`
	WeekStart   time.Time `json:"week_start"`
	Price       float64   `json:"price"`
}

type RateUpsertRequest struct {
	ApartmentID string  `json:"apartment_id"`
	WeekStart   string  `json:"week_start"`
	Price       float64 `json:"price"`
}

type RateHistory struct {
	ID          string    `json:"id"`
	ApartmentID string    `json:"apartment_id"`
	WeekStart   time.Time `json:"week_start"`
	OldPrice    *float64  `json:"old_price,omitempty"`
	NewPrice    float64   `json:"new_price"`
	ChangedBy   string    `json:"changed_by"`
	ChangedAt   time.Time `json:"changed_at"`
}

type ChildDetail struct {
	Under12           bool `json:"under_12"`
	SleepsWithParents bool `json:"sleeps_with_parents"`
	SleepsInCrib      bool `json:"sleeps_in_crib"`
}

// StaySpecification is the validated input of a price calculation. Dates are
// calendar dates at UTC midnight; a zero date means the field was not supplied.
type StaySpecification struct {
	CheckIn            time.Time
	CheckOut           time.Time
	ApartmentIDs       []string
	Adults             int
	Children           int
	ChildDetails       []ChildDetail
	Linen              bool
	Pets               bool
	ApartmentPets      map[string]bool
	ApartmentOccupants map[string]int
	Notes              string
}

type QuoteRequest struct {
	CheckIn            string          `json:"check_in"`
	CheckOut           string          `json:"check_out"`
	ApartmentIDs       []string        `json:"apartment_ids"`
	Adults             int             `json:"adults"`
	Children           int             `json:"children"`
	ChildDetails       []ChildDetail   `json:"child_details,omitempty"`
	Linen              bool            `json:"linen"`
	Pets               bool            `json:"pets"`
	ApartmentPets      map[string]bool `json:"apartment_pets,omitempty"`
	ApartmentOccupants map[string]int  `json:"apartment_occupants,omitempty"`
	Notes              string          `json:"notes,omitempty"`
}

type PriceCalculation struct {
	BasePrice           float64            `json:"base_price"`
	Extras              float64            `json:"extras"`
	LinenCost           float64            `json:"linen_cost"`
	PetsCost            float64            `json:"pets_cost"`
	CleaningFee         float64            `json:"cleaning_fee"`
	TouristTax          float64            `json:"tourist_tax"`
	TouristTaxPerPerson float64            `json:"tourist_tax_per_person"`
	TotalBeforeDiscount float64            `json:"total_before_discount"`
	TotalAfterDiscount  float64            `json:"total_after_discount"`
	Discount            float64            `json:"discount"`
	Savings             float64            `json:"savings"`
	Deposit             float64            `json:"deposit"`
	Nights              int                `json:"nights"`
	Subtotal            float64            `json:"subtotal"`
	ApartmentPrices     map[string]float64 `json:"apartment_prices"`
	UsedFallbackFor     []string           `json:"used_fallback_for"`
}

// EmptyPriceCalculation is the result for invalid or incomplete input.
func EmptyPriceCalculation() PriceCalculation {
	return PriceCalculation{
		ApartmentPrices: map[string]float64{},
		UsedFallbackFor: []string{},
	}
}

func (p PriceCalculation) IsEmpty() bool {
	return p.Nights == 0 && p.BasePrice == 0 && p.TotalBeforeDiscount == 0 && len(p.ApartmentPrices) == 0
}

type QuoteResponse struct {
	Valid       bool             `json:"valid"`
	CheckIn     string           `json:"check_in,omitempty"`
	CheckOut    string           `json:"check_out,omitempty"`
	Calculation PriceCalculation `json:"calculation"`
}

type RateCacheInvalidateRequest struct {
	ApartmentID string `json:"apartment_id"`
	Year        int    `json:"year"`
}

type RateCacheWarmRequest struct {
	Years []int `json:"years"`
}

type RateCacheWarmResponse struct {
	Years   []int `json:"years"`
	Entries int   `json:"entries"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
