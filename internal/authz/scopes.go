package authz

// ScopeReportRun разрешает ручной запуск отчёта через POST /run.
const ScopeReportRun = "report:run"

func HasScope(granted []string, want string) bool {
	for _, s := range granted {
		if s == want {
			return true
		}
	}
	return false
}
