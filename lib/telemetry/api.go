package telemetry

// API is how components report what happened to them. Tests swap in a
// Recorder to assert on the reports.
type API interface {
	// ReportBroken reports a failure someone has to look at.
	//
	// id names the component that broke as "package.operation", lowercase with
	// dashes inside the operation (ex. "fetcher.fetch-retry"). Details such as
	// the error go into params.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something recoverable that is still worth a look,
	// such as a skipped input line. id follows ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports information only useful while developing.
	ReportDebug(msg string, params ...any)

	// ReportCount records the latest value of a counter, values are points in
	// time and are not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, ex. "schedule/pipeline.run".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return s.namespace + "/" + id
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}
