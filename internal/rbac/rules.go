package rbac

// Default policy for the attainment API. Students see their own
// attainment; instructors manage the outcome graph and grades; admin
// holds everything.
var RolePermissions = map[string][]string{
	"student": {
		"report:view-own",
	},
	"instructor": {
		"catalog:edit",
		"weight:edit",
		"grade:edit",
		"enrollment:edit",
		"import:run",
		"report:view",
		"report:view-own",
	},
	"admin": {
		"*", // everything
	},
}
