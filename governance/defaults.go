package governance

// Well-known parameter keys resolved by the core.
const (
	ParamSettlementHoldSeconds   = "settlement.hold_seconds"
	ParamAgentDripRecoveryPct    = "agent.drip_recovery_pct"
	ParamTransferMaxSingleMicro  = "transfer.max_single_micro"
	ParamTransferDailyLimitMicro = "transfer.daily_limit_micro"
	ParamAgentWeightSource       = "governance.agent_weight_source"
)

// Defaults holds the compile-time fallback value for every parameter the
// core reads, used when neither an entity-scoped nor a global active
// config exists. Callers extending the parameter set add entries here.
var Defaults = map[string]string{
	ParamSettlementHoldSeconds:   "172800", // 48h
	ParamAgentDripRecoveryPct:    "50",
	ParamTransferMaxSingleMicro:  "100000000", // $100
	ParamTransferDailyLimitMicro: "500000000", // $500
	ParamAgentWeightSource:       "delegation",
}
