package store

import (
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/shopspring/decimal"
)

// TicketRecord is the persisted form of a ticket.
type TicketRecord struct {
	TransactionID  string    `gorm:"column:transaction_id;primaryKey;size:191"`
	OrganizationID string    `gorm:"column:organization_id;size:191;index;not null"`
	CustomerID     string    `gorm:"column:customer_id;size:191;index"`
	ValidationDate time.Time `gorm:"column:validation_date;not null"`
	Month          string    `gorm:"column:month;size:7;index;not null"`

	TotalInclTax          decimal.Decimal `gorm:"column:total_incl_tax;type:decimal(20,4);not null;default:0"`
	TotalExclTax          decimal.Decimal `gorm:"column:total_excl_tax;type:decimal(20,4);not null;default:0"`
	PurchasingCostExclTax decimal.Decimal `gorm:"column:purchasing_cost_excl_tax;type:decimal(20,4);not null;default:0"`
	QuantityTotal         decimal.Decimal `gorm:"column:quantity_total;type:decimal(20,4);not null;default:0"`

	HasCoupon          bool            `gorm:"column:has_coupon;not null;default:false"`
	AmountPaidByCoupon decimal.Decimal `gorm:"column:amount_paid_by_coupon;type:decimal(20,4);not null;default:0"`
	NetMarginExclTax   decimal.Decimal `gorm:"column:net_margin_excl_tax;type:decimal(20,4);not null;default:0"`

	IngestedAt time.Time `gorm:"column:ingested_at;autoCreateTime"`
}

// TableName pins the table name.
func (TicketRecord) TableName() string { return "tickets" }

// CouponRecord is the persisted form of a coupon.
type CouponRecord struct {
	CouponID       string     `gorm:"column:coupon_id;primaryKey;size:191"`
	OrganizationID string     `gorm:"column:organization_id;size:191;index;not null"`
	EmissionDate   *time.Time `gorm:"column:emission_date"`
	UseDate        *time.Time `gorm:"column:use_date"`

	AmountInitial   decimal.Decimal `gorm:"column:amount_initial;type:decimal(20,4);not null;default:0"`
	AmountRemaining decimal.Decimal `gorm:"column:amount_remaining;type:decimal(20,4);not null;default:0"`
	ValueUsed       decimal.Decimal `gorm:"column:value_used;type:decimal(20,4);not null;default:0"`
	IsUsed          bool            `gorm:"column:is_used;not null;default:false"`

	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name.
func (CouponRecord) TableName() string { return "coupons" }

func ticketRecord(t types.Ticket) TicketRecord {
	return TicketRecord{
		TransactionID:         t.TransactionID,
		OrganizationID:        t.OrganizationID,
		CustomerID:            t.CustomerID,
		ValidationDate:        t.ValidationDate.UTC(),
		Month:                 t.Month,
		TotalInclTax:          t.TotalInclTax,
		TotalExclTax:          t.TotalExclTax,
		PurchasingCostExclTax: t.PurchasingCostExclTax,
		QuantityTotal:         t.QuantityTotal,
		HasCoupon:             t.HasCoupon,
		AmountPaidByCoupon:    t.AmountPaidByCoupon,
		NetMarginExclTax:      t.NetMarginExclTax,
	}
}

func (r TicketRecord) ticket() types.Ticket {
	return types.Ticket{
		TransactionID:         r.TransactionID,
		OrganizationID:        r.OrganizationID,
		CustomerID:            r.CustomerID,
		ValidationDate:        r.ValidationDate.UTC(),
		Month:                 r.Month,
		TotalInclTax:          r.TotalInclTax,
		TotalExclTax:          r.TotalExclTax,
		PurchasingCostExclTax: r.PurchasingCostExclTax,
		QuantityTotal:         r.QuantityTotal,
		HasCoupon:             r.HasCoupon,
		AmountPaidByCoupon:    r.AmountPaidByCoupon,
		NetMarginExclTax:      r.NetMarginExclTax,
	}
}

func couponRecord(c types.Coupon) CouponRecord {
	return CouponRecord{
		CouponID:        c.CouponID,
		OrganizationID:  c.OrganizationID,
		EmissionDate:    utcPtr(c.EmissionDate),
		UseDate:         utcPtr(c.UseDate),
		AmountInitial:   c.AmountInitial,
		AmountRemaining: c.AmountRemaining,
		ValueUsed:       c.ValueUsed,
		IsUsed:          c.IsUsed,
	}
}

func (r CouponRecord) coupon() types.Coupon {
	return types.Coupon{
		CouponID:        r.CouponID,
		OrganizationID:  r.OrganizationID,
		EmissionDate:    utcPtr(r.EmissionDate),
		UseDate:         utcPtr(r.UseDate),
		AmountInitial:   r.AmountInitial,
		AmountRemaining: r.AmountRemaining,
		ValueUsed:       r.ValueUsed,
		IsUsed:          r.IsUsed,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
