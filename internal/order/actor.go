package order

import (
	"fmt"

	"campus_market/internal/model"
)

// Actor 发起迁移的一方：某个用户，或系统（过期扫描、退款流程）。
type Actor struct {
	UserID int64
	system bool
}

// System 系统身份，只能用于过期取消与退款。
var System = Actor{system: true}

func User(id int64) Actor { return Actor{UserID: id} }

func (a Actor) IsSystem() bool { return a.system }

func (a Actor) String() string {
	if a.system {
		return "system"
	}
	return fmt.Sprintf("user:%d", a.UserID)
}

// Role 行为方相对某个订单的角色。
type Role int

const (
	RoleStranger Role = iota
	RoleBuyer
	RoleSeller
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleSystem:
		return "system"
	default:
		return "stranger"
	}
}

// RoleOf 按订单解析角色；非买卖双方的用户是 stranger。
func RoleOf(o *model.Order, a Actor) Role {
	switch {
	case a.system:
		return RoleSystem
	case a.UserID > 0 && a.UserID == o.BuyerID:
		return RoleBuyer
	case a.UserID > 0 && a.UserID == o.SellerID:
		return RoleSeller
	default:
		return RoleStranger
	}
}
