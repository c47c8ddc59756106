package roles

// Authorization predicates. Every check in the core goes through one of these so
// a new role only needs to be added here.

// CanSubmit reports whether the holder may submit and edit own expenses.
func CanSubmit(s Set) bool { return s.Has(Colaborador) }

// CanStartAnalysis reports whether the holder may move an expense into analysis.
func CanStartAnalysis(s Set) bool { return s.Has(RH) }

// CanReview reports whether the holder may validate or reject expenses.
func CanReview(s Set) bool { return s.HasAny(RH, Financeiro) }

// CanManagePeriods reports whether the holder may create calendar periods.
func CanManagePeriods(s Set) bool { return s.Has(RH) }

// CanClosePeriods reports whether the holder may run a closing.
func CanClosePeriods(s Set) bool { return s.HasAny(RH, Financeiro) }

// CanReadAudit reports whether the holder may query and export the audit log.
func CanReadAudit(s Set) bool { return s.HasAny(RH, Financeiro) }

// SeesHRNames reports whether the holder sees HR-recorded names instead of
// self-chosen account names.
func SeesHRNames(s Set) bool { return s.HasAny(RH, Financeiro) }
