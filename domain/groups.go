package domain

import "strconv"

// GroupKey names a subscription bucket. Keys are only built by the
// constructors below so that admission-time joins and publish-time targets
// always agree on the spelling.
type GroupKey string

const (
	rolePrefix    = "role:"
	hotelPrefix   = "hotel:"
	bookingPrefix = "booking:"
	userPrefix    = "user:"
)

// RoleFrontDesk is the role that receives every booking-lifecycle event.
const RoleFrontDesk = "FrontDesk"

func RoleGroup(role string) GroupKey { return GroupKey(rolePrefix + role) }

func HotelGroup(id int64) GroupKey { return GroupKey(hotelPrefix + strconv.FormatInt(id, 10)) }

func BookingGroup(id int64) GroupKey { return GroupKey(bookingPrefix + strconv.FormatInt(id, 10)) }

func UserGroup(userID string) GroupKey { return GroupKey(userPrefix + userID) }

func (g GroupKey) String() string { return string(g) }
