// Package model содержит доменные сущности сервиса бонусных скидок.
package model

import "time"

// VerificationStatus описывает статус проверки тарелки для скана.
type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusApproved VerificationStatus = "approved"
	VerificationStatusRejected VerificationStatus = "rejected"
)

// IsTerminal сообщает, является ли статус конечным: из approved и rejected переходов нет.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationStatusApproved || s == VerificationStatusRejected
}

// Restaurant представляет ресторан, к которому привязаны точки выдачи.
type Restaurant struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
}

// ShopStatus описывает состояние точки выдачи.
type ShopStatus string

const (
	ShopStatusActive   ShopStatus = "Active"
	ShopStatusInactive ShopStatus = "Inactive"
)

// Shop представляет точку выдачи внутри ресторана.
type Shop struct {
	ID           string
	RestaurantID string
	Name         string
	Address      string
	Status       ShopStatus
	CreatedAt    time.Time
}

// Item представляет товар со скидкой. Цены хранятся в копейках.
type Item struct {
	ID                   string
	ShopID               string
	Name                 string
	OriginalPriceCents   int64
	DiscountedPriceCents int64
	QuantityAvailable    int64
	DiscountActive       bool
	IsActive             bool
	CreatedAt            time.Time
}

// Scan представляет одну попытку получения награды устройством.
// Цены фиксируются в момент подтверждения и не меняются при редактировании товара.
type Scan struct {
	ID                   string
	RestaurantID         *string
	ShopID               *string
	ItemID               *string
	OriginalPriceCents   int64
	DiscountedPriceCents int64
	DiscountAmountCents  int64
	GuestName            string
	DeviceFingerprint    string
	PlateImageURL        string
	VerificationStatus   VerificationStatus
	RewardUnlocked       bool
	NextScanAvailableAt  *time.Time
	ScannedAt            time.Time
	VerifiedAt           *time.Time
}

// Eligibility содержит результат проверки возможности скана для устройства.
type Eligibility struct {
	Eligible        bool
	NextAvailableAt *time.Time
}

// OfferItem описывает доступный товар со скидкой в выдаче предложений.
type OfferItem struct {
	ID                 string
	Name               string
	OriginalPrice      float64
	DiscountedPrice    float64
	QuantityAvailable  int64
	DiscountAmount     float64
	DiscountPercentage int
}

// ShopOffers группирует доступные предложения по точке выдачи.
type ShopOffers struct {
	Shop  Shop
	Items []OfferItem
}

// Offers содержит все доступные предложения ресторана.
type Offers struct {
	Restaurant  Restaurant
	Shops       []ShopOffers
	TotalOffers int
}

// Reward описывает выданную награду: код погашения и окно его действия.
type Reward struct {
	ScanID          string
	Code            string
	ItemName        string
	ShopName        string
	OriginalPrice   float64
	DiscountedPrice float64
	DiscountAmount  float64
	ClaimedAt       time.Time
	ExpiresAt       time.Time
}

// ScanDetails содержит скан вместе с названиями связанных сущностей.
type ScanDetails struct {
	Scan           Scan
	RestaurantName string
	ShopName       string
	ItemName       string
}

// DashboardMetrics содержит сводные показатели для панели администратора.
type DashboardMetrics struct {
	TotalScans   int64
	TotalRewards float64
	Recent       []RecentScan
}

// RecentScan описывает один из последних сканов в сводке.
type RecentScan struct {
	ID              string
	ScannedAt       time.Time
	ShopName        string
	ItemName        string
	DiscountApplied float64
}
