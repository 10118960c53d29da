package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// BuyerAccount represents the buyer_accounts table.
type BuyerAccount struct {
	BuyerID      string    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (BuyerAccount) TableName() string { return "buyer_accounts" }

// StockItem mirrors the stock_items table. ChosenMode stays NULL until the
// first completed sale pins the item to one access mode.
type StockItem struct {
	ItemID        int64        `gorm:"primaryKey;autoIncrement"`
	Category      string       `gorm:"not null;index:idx_stock_items_category"`
	Credential    string       `gorm:"not null"`
	ChosenMode    *string      `gorm:""`
	FullyDepleted bool         `gorm:"not null;default:false"`
	CreatedAt     time.Time    `gorm:"not null"`
	Offers        []StockOffer `gorm:"foreignKey:ItemID;references:ItemID"`
}

func (StockItem) TableName() string { return "stock_items" }

// StockOffer mirrors the stock_offers table, one row per (item, mode).
type StockOffer struct {
	OfferID    int64  `gorm:"primaryKey;autoIncrement"`
	ItemID     int64  `gorm:"not null;index:idx_stock_offers_item_mode,unique,priority:1"`
	Mode       string `gorm:"not null;index:idx_stock_offers_item_mode,unique,priority:2"`
	PriceCents int64  `gorm:"not null"`
	Capacity   int64  `gorm:"not null"`
	Used       int64  `gorm:"not null;default:0"`
}

func (StockOffer) TableName() string { return "stock_offers" }

// Sale mirrors the append-only sales table.
type Sale struct {
	SaleID          int64     `gorm:"primaryKey;autoIncrement"`
	BuyerID         string    `gorm:"not null;index:idx_sales_buyer"`
	ItemID          int64     `gorm:"not null"`
	Category        string    `gorm:"not null"`
	Credential      string    `gorm:"not null"`
	PriceCents      int64     `gorm:"not null"`
	Mode            string    `gorm:"not null"`
	MerchantOrderID string    `gorm:"index:idx_sales_merchant_order"`
	CreatedAt       time.Time `gorm:"not null;index:idx_sales_created"`
}

func (Sale) TableName() string { return "sales" }

// PaymentOrder mirrors the payment_orders table keyed by the merchant order
// id handed to the gateway.
type PaymentOrder struct {
	MerchantOrderID string         `gorm:"primaryKey"`
	Kind            string         `gorm:"not null"`
	BuyerID         string         `gorm:"not null;index:idx_payment_orders_buyer"`
	Category        string         `gorm:""`
	Mode            string         `gorm:""`
	AmountCents     int64          `gorm:"not null"`
	Status          string         `gorm:"not null;index:idx_payment_orders_status"`
	PaymentURL      string         `gorm:"not null"`
	Metadata        datatypes.JSON `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }

// InstructionRow mirrors the instructions table keyed by (category, mode).
type InstructionRow struct {
	Category  string    `gorm:"primaryKey"`
	Mode      string    `gorm:"primaryKey"`
	Message   string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (InstructionRow) TableName() string { return "instructions" }

// Models lists every table in migration order.
func Models() []any {
	return []any{
		&BuyerAccount{},
		&StockItem{},
		&StockOffer{},
		&Sale{},
		&PaymentOrder{},
		&InstructionRow{},
	}
}
