package rbac

// Dashboard permissions. The catalog is closed: policy documents may only
// reference values listed here.
const (
	PermBookingView   Permission = "booking:view"
	PermBookingCreate Permission = "booking:create"
	PermBookingEdit   Permission = "booking:edit"

	PermPropertyView Permission = "property:view"
	PermPropertyEdit Permission = "property:edit"

	PermDashboardView Permission = "dashboard:view"
	PermFinancialView Permission = "financial:view"

	PermUsersManage   Permission = "users:manage"
	PermSystemMonitor Permission = "system:monitor"
	PermEventsPublish Permission = "events:publish"
)

var catalog = []Permission{
	PermBookingView,
	PermBookingCreate,
	PermBookingEdit,
	PermPropertyView,
	PermPropertyEdit,
	PermDashboardView,
	PermFinancialView,
	PermUsersManage,
	PermSystemMonitor,
	PermEventsPublish,
}

var catalogIndex = func() map[Permission]struct{} {
	idx := make(map[Permission]struct{}, len(catalog))
	for _, p := range catalog {
		idx[p] = struct{}{}
	}
	return idx
}()

// Catalog lists every known permission.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// IsKnown reports whether p belongs to the catalog.
func IsKnown(p Permission) bool {
	_, ok := catalogIndex[p]
	return ok
}
