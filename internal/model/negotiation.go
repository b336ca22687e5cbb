package model

import (
	"fmt"
	"time"
)

// NegotiationStatus 议价记录状态。
type NegotiationStatus int

const (
	NegotiationPending     NegotiationStatus = iota + 1 // 新报价，等待对方回应
	NegotiationAccepted                                 // 对方接受，价格已写回订单
	NegotiationRejected                                 // 被拒绝或被新报价取代
	NegotiationCounterOffer                             // 对方还价，等待原报价方回应
)

var negotiationStatusNames = map[NegotiationStatus]string{
	NegotiationPending:      "pending",
	NegotiationAccepted:     "accepted",
	NegotiationRejected:     "rejected",
	NegotiationCounterOffer: "counter_offer",
}

func (s NegotiationStatus) String() string {
	if n, ok := negotiationStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("negotiation_status(%d)", int(s))
}

// Open 报价仍可被回应。
func (s NegotiationStatus) Open() bool {
	return s == NegotiationPending || s == NegotiationCounterOffer
}

func (s NegotiationStatus) MarshalText() ([]byte, error) {
	if _, ok := negotiationStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid negotiation status %d", int(s))
	}
	return []byte(s.String()), nil
}

// OpenNegotiationStatuses 同一订单同一时刻至多一条处于这些状态。
var OpenNegotiationStatuses = []NegotiationStatus{NegotiationPending, NegotiationCounterOffer}

// Negotiation 针对一个订单的一次报价。
type Negotiation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID    string            `gorm:"size:36;not null;index" json:"order_id"`
	ProposerID int64             `gorm:"not null" json:"proposer_id"`
	Price      int64             `gorm:"not null" json:"price"`
	Status     NegotiationStatus `gorm:"not null;index" json:"status"`
	// ParentID 还价时指向被回应的那条报价。
	ParentID    string     `gorm:"size:36" json:"parent_id,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func (Negotiation) TableName() string { return "negotiations" }
