package metrics

const (
	OptimizerCandidatesN = "ptpdal_optimizer_candidates_total"
	OptimizerCandidatesH = "The total number of window lengths scored by the window optimizer"

	OptimizerBestMaxTEN = "ptpdal_optimizer_best_max_te_nanoseconds"
	OptimizerBestMaxTEH = "The lowest max|TE| found by the window optimizer"

	OptimizerBestWindowN = "ptpdal_optimizer_best_window_length"
	OptimizerBestWindowH = "The window length with the lowest max|TE| found by the window optimizer"

	EstimatorMaxTEN = "ptpdal_estimator_max_te_nanoseconds"
	EstimatorMaxTEH = "The max|TE| of an estimator over the analysed trace"

	EstimatorErrorQuantileN = "ptpdal_estimator_abs_error_nanoseconds"
	EstimatorErrorQuantileH = "Quantiles of the absolute time offset estimation error"
)
