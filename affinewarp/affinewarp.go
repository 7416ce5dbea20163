package affinewarp

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNotFitted is returned by operations that need a fitted model.
	ErrNotFitted = errors.New("affinewarp: model not initialized")

	// ErrDimensionMismatch is returned when input shapes disagree with the model.
	ErrDimensionMismatch = errors.New("affinewarp: dimension mismatch")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("affinewarp: invalid configuration")

	// ErrSingularSystem is returned when the template normal equations
	// cannot be factorized.
	ErrSingularSystem = errors.New("affinewarp: singular template system")
)

// InputError represents an input validation error
type InputError struct {
	Expected int
	Got      int
	Type     string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s must have size %d, got %d", e.Type, e.Expected, e.Got)
}

// Unwrap makes InputError match ErrDimensionMismatch.
func (e *InputError) Unwrap() error { return ErrDimensionMismatch }

// ParamsExtender contributes extra entries to DumpParams. Models built on
// top of AffineWarping use it to persist their own parameters.
type ParamsExtender interface {
	ExtraParams() map[string]any
}

// AffineWarping implements piecewise affine time warping of a batch of
// trials onto a shared template:
// - one monotonic piecewise-affine warp per trial, fit by random search
// - a template refit by banded least squares with optional curvature penalty
// - alternating minimization between the two
// - forward and inverse warping of dense and sparse data
//
// An AffineWarping is not safe for concurrent use.
type AffineWarping struct {
	nKnots       int     // interior knots per warp; 0 is a pure affine warp
	warpReg      float64 // weight of the warp-magnitude penalty
	l2Smoothness float64 // weight of the template curvature penalty
	minTemp      float64 // log10 of the coldest perturbation scale
	maxTemp      float64 // log10 of the hottest perturbation scale
	cooling      bool    // visit the schedule from hot to cold
	workers      int     // goroutines used for per-trial evaluation
	seed         int64

	rng      *rand.Rand
	logger   *log.Logger
	extender ParamsExtender

	session *session

	// Statistics
	proposals uint64
	accepted  uint64
}

// session is the mutable state of a fit. It exists only after Fit.
type session struct {
	tref      []float64  // reference time base, T values on [0, 1]
	template  *mat.Dense // T x N
	knots     Knots      // K x (nKnots+2)
	losses    []float64  // per-trial loss including warp penalty
	penalties []float64  // per-trial weighted warp penalty
	lossHist  []float64

	// scratch for candidate evaluation
	newLosses    []float64
	newPenalties []float64
}

// commit replaces trial k's warp and loss state with the candidate's.
func (s *session) commit(k int, cand Knots, loss, penalty float64) {
	s.knots.commit(k, cand)
	s.losses[k] = loss
	s.penalties[k] = penalty
}

// Option defines a functional option for configuring AffineWarping
type Option func(*AffineWarping)

// WithWarpReg sets the weight of the penalty on warp distance from identity
func WithWarpReg(warpReg float64) Option {
	return func(m *AffineWarping) {
		m.warpReg = warpReg
	}
}

// WithL2Smoothness sets the weight of the template second-difference penalty
func WithL2Smoothness(l2 float64) Option {
	return func(m *AffineWarping) {
		m.l2Smoothness = l2
	}
}

// WithTemperatureRange sets the log10 bounds of the perturbation schedule
func WithTemperatureRange(minTemp, maxTemp float64) Option {
	return func(m *AffineWarping) {
		m.minTemp = minTemp
		m.maxTemp = maxTemp
	}
}

// WithCooling visits the schedule from the hottest temperature to the coldest
func WithCooling(cooling bool) Option {
	return func(m *AffineWarping) {
		m.cooling = cooling
	}
}

// WithRandomSeed sets the random seed for reproducibility
func WithRandomSeed(seed int64) Option {
	return func(m *AffineWarping) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		m.seed = seed
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithWorkers sets how many goroutines evaluate trials in parallel
func WithWorkers(workers int) Option {
	return func(m *AffineWarping) {
		m.workers = workers
	}
}

// WithLogger sets the logger used for verbose progress
func WithLogger(logger *log.Logger) Option {
	return func(m *AffineWarping) {
		m.logger = logger
	}
}

// WithParamsExtender registers extra parameters reported by DumpParams
func WithParamsExtender(ext ParamsExtender) Option {
	return func(m *AffineWarping) {
		m.extender = ext
	}
}

// NewAffineWarping creates an unfitted model whose warps have nKnots
// interior knots.
func NewAffineWarping(nKnots int, options ...Option) (*AffineWarping, error) {
	if nKnots < 0 {
		return nil, fmt.Errorf("%w: number of knots must be nonnegative, got %d", ErrInvalidConfig, nKnots)
	}

	seed := time.Now().UnixNano()
	m := &AffineWarping{
		nKnots:  nKnots,
		minTemp: -2,
		maxTemp: 0,
		workers: 1,
		seed:    seed,
		rng:     rand.New(rand.NewSource(seed)),
	}

	// Apply options
	for _, opt := range options {
		opt(m)
	}

	switch {
	case m.warpReg < 0:
		return nil, fmt.Errorf("%w: warp regularization must be nonnegative, got %g", ErrInvalidConfig, m.warpReg)
	case m.l2Smoothness < 0:
		return nil, fmt.Errorf("%w: l2 smoothness must be nonnegative, got %g", ErrInvalidConfig, m.l2Smoothness)
	case m.minTemp > m.maxTemp:
		return nil, fmt.Errorf("%w: min temperature %g exceeds max temperature %g", ErrInvalidConfig, m.minTemp, m.maxTemp)
	case m.workers < 1:
		return nil, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, m.workers)
	}

	return m, nil
}

// FitOption configures a Fit or ContinueFit call
type FitOption func(*fitConfig)

type fitConfig struct {
	iterations     int
	warpIterations int
	fitTemplate    bool
	verbose        bool
}

func newFitConfig(options []FitOption) fitConfig {
	cfg := fitConfig{iterations: 10, warpIterations: 20, fitTemplate: true}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// Iterations sets the number of alternating warp/template rounds
func Iterations(n int) FitOption {
	return func(c *fitConfig) {
		c.iterations = n
	}
}

// WarpIterations sets the number of temperatures visited per warp search
func WarpIterations(n int) FitOption {
	return func(c *fitConfig) {
		c.warpIterations = n
	}
}

// FreezeTemplate refits only the warps, leaving the template unchanged
func FreezeTemplate() FitOption {
	return func(c *fitConfig) {
		c.fitTemplate = false
	}
}

// Verbose logs the mean loss after every round
func Verbose(verbose bool) FitOption {
	return func(c *fitConfig) {
		c.verbose = verbose
	}
}

func notFitted(op string) error {
	return fmt.Errorf("%w: call AffineWarping.Fit before AffineWarping.%s", ErrNotFitted, op)
}

// Fit initializes the template to the trial mean and every warp to the
// identity, then runs ContinueFit.
func (m *AffineWarping) Fit(data *Tensor, options ...FitOption) error {
	if data == nil || len(data.Data) == 0 {
		return fmt.Errorf("%w: data must be a 3-dimensional trials x timepoints x channels tensor",
			ErrDimensionMismatch)
	}
	if len(data.Data) != data.K*data.T*data.N {
		return &InputError{Expected: data.K * data.T * data.N, Got: len(data.Data), Type: "tensor data"}
	}
	if data.T < 2 {
		return fmt.Errorf("%w: need at least 2 timepoints, got %d", ErrDimensionMismatch, data.T)
	}
	if err := data.checkFinite(); err != nil {
		return err
	}

	s := &session{
		tref:         timeBase(data.T),
		template:     data.Mean(),
		knots:        IdentityKnots(data.K, m.nKnots),
		losses:       make([]float64, data.K),
		penalties:    make([]float64, data.K),
		newLosses:    make([]float64, data.K),
		newPenalties: make([]float64, data.K),
	}
	pred := predictWarp(s.knots, s.tref, s.template, m.workers)
	for k := range s.losses {
		d := floats.Distance(pred.trialData(k), data.trialData(k), 2)
		s.losses[k] = d * d
	}
	s.lossHist = []float64{stat.Mean(s.losses, nil)}

	m.session = s
	m.proposals, m.accepted = 0, 0
	return m.ContinueFit(data, options...)
}

// ContinueFit runs further rounds of warp search and template refits on a
// fitted model without reinitializing it.
func (m *AffineWarping) ContinueFit(data *Tensor, options ...FitOption) error {
	if m.session == nil {
		return notFitted("ContinueFit")
	}
	s := m.session
	if err := m.checkData(data); err != nil {
		return err
	}
	cfg := newFitConfig(options)

	for it := 0; it < cfg.iterations; it++ {
		m.searchWarps(data, cfg.warpIterations)

		if cfg.fitTemplate {
			template, err := solveTemplate(s.knots, s.tref, data, m.l2Smoothness)
			if err != nil {
				return err
			}
			s.template = template
			m.refreshLosses(data)
		}

		s.lossHist = append(s.lossHist, stat.Mean(s.losses, nil))

		if cfg.verbose {
			prev, cur := s.lossHist[len(s.lossHist)-2], s.lossHist[len(s.lossHist)-1]
			imp := 0.0
			if prev != 0 {
				imp = 100 * (prev - cur) / prev
			}
			m.log().Printf("iteration %d/%d: loss %.6g, improvement %.2f%%", it+1, cfg.iterations, cur, imp)
		}
	}
	return nil
}

// FitWarps runs one random-search pass of iterations temperatures with
// the template held fixed.
func (m *AffineWarping) FitWarps(data *Tensor, iterations int) error {
	if m.session == nil {
		return notFitted("FitWarps")
	}
	if err := m.checkData(data); err != nil {
		return err
	}
	m.searchWarps(data, iterations)
	return nil
}

// FitTemplate refits the template by least squares with the warps held
// fixed, refreshes the per-trial losses and returns a copy of the template.
func (m *AffineWarping) FitTemplate(data *Tensor) (*mat.Dense, error) {
	if m.session == nil {
		return nil, notFitted("FitTemplate")
	}
	if err := m.checkData(data); err != nil {
		return nil, err
	}
	template, err := solveTemplate(m.session.knots, m.session.tref, data, m.l2Smoothness)
	if err != nil {
		return nil, err
	}
	m.session.template = template
	m.refreshLosses(data)
	return mat.DenseCopyOf(template), nil
}

// refreshLosses recomputes every trial's loss from scratch against the
// current template and adds back the stored warp penalty.
func (m *AffineWarping) refreshLosses(data *Tensor) {
	s := m.session
	for k := range s.losses {
		s.losses[k] = 0
	}
	warpWithQuadLoss(s.knots, s.tref, s.template, data, s.losses, s.losses, false, m.workers)
	if m.warpReg > 0 {
		floats.Add(s.losses, s.penalties)
	}
}

// checkData validates data against the fitted shapes.
func (m *AffineWarping) checkData(data *Tensor) error {
	if data == nil {
		return fmt.Errorf("%w: data is nil", ErrDimensionMismatch)
	}
	T, N := m.session.template.Dims()
	K, _ := m.session.knots.Dims()
	if data.N != N {
		return &InputError{Expected: N, Got: data.N, Type: "data channels"}
	}
	if data.T != T {
		return &InputError{Expected: T, Got: data.T, Type: "data timepoints"}
	}
	if data.K != K {
		return &InputError{Expected: K, Got: data.K, Type: "data trials"}
	}
	if len(data.Data) != data.K*data.T*data.N {
		return &InputError{Expected: data.K * data.T * data.N, Got: len(data.Data), Type: "tensor data"}
	}
	return nil
}

func (m *AffineWarping) log() *log.Logger {
	if m.logger != nil {
		return m.logger
	}
	return log.Default()
}

// Predict returns the template resampled through every trial's forward warp.
func (m *AffineWarping) Predict() (*Tensor, error) {
	if m.session == nil {
		return nil, notFitted("Predict")
	}
	return predictWarp(m.session.knots, m.session.tref, m.session.template, m.workers), nil
}

// ArgsortWarps returns trial indices ordered by the forward warp evaluated
// at reference time t, earliest first.
func (m *AffineWarping) ArgsortWarps(t float64) ([]int, error) {
	if m.session == nil {
		return nil, notFitted("ArgsortWarps")
	}
	if t < 0 || t > 1 {
		return nil, fmt.Errorf("%w: t must be between zero and one, got %g", ErrInvalidConfig, t)
	}
	K, _ := m.session.knots.Dims()
	trials := make([]int, K)
	times := make([]float64, K)
	for k := range trials {
		trials[k] = k
		times[k] = t
	}
	warped := sparseWarp(m.session.knots, trials, times)
	floats.Argsort(warped, trials)
	return trials, nil
}

// DumpParams returns a snapshot of the template, knots, loss history and
// configuration for storage. State entries are nil before Fit.
func (m *AffineWarping) DumpParams() map[string]any {
	params := map[string]any{
		"template":      (*mat.Dense)(nil),
		"x_knots":       (*mat.Dense)(nil),
		"y_knots":       (*mat.Dense)(nil),
		"loss_hist":     []float64(nil),
		"n_knots":       m.nKnots,
		"warpreg":       m.warpReg,
		"l2_smoothness": m.l2Smoothness,
		"min_temp":      m.minTemp,
		"max_temp":      m.maxTemp,
	}
	if s := m.session; s != nil {
		params["template"] = mat.DenseCopyOf(s.template)
		params["x_knots"] = mat.DenseCopyOf(s.knots.X)
		params["y_knots"] = mat.DenseCopyOf(s.knots.Y)
		params["loss_hist"] = append([]float64(nil), s.lossHist...)
	}
	if m.extender != nil {
		for key, v := range m.extender.ExtraParams() {
			params[key] = v
		}
	}
	return params
}

// Template returns a copy of the fitted T x N template.
func (m *AffineWarping) Template() (*mat.Dense, error) {
	if m.session == nil {
		return nil, notFitted("Template")
	}
	return mat.DenseCopyOf(m.session.template), nil
}

// Knots returns a copy of the fitted warps.
func (m *AffineWarping) Knots() (Knots, error) {
	if m.session == nil {
		return Knots{}, notFitted("Knots")
	}
	return m.session.knots.Clone(), nil
}

// Losses returns a copy of the current per-trial losses.
func (m *AffineWarping) Losses() ([]float64, error) {
	if m.session == nil {
		return nil, notFitted("Losses")
	}
	return append([]float64(nil), m.session.losses...), nil
}

// LossHistory returns the mean loss recorded at Fit and after every round.
func (m *AffineWarping) LossHistory() []float64 {
	if m.session == nil {
		return nil
	}
	return append([]float64(nil), m.session.lossHist...)
}

// GetStats returns current model statistics
func (m *AffineWarping) GetStats() map[string]any {
	stats := map[string]any{
		"n_knots":       m.nKnots,
		"warpreg":       m.warpReg,
		"l2_smoothness": m.l2Smoothness,
		"min_temp":      m.minTemp,
		"max_temp":      m.maxTemp,
		"cooling":       m.cooling,
		"workers":       m.workers,
		"fitted":        m.session != nil,
		"proposals":     m.proposals,
		"accepted":      m.accepted,
	}
	if s := m.session; s != nil {
		K, P := s.knots.Dims()
		T, N := s.template.Dims()
		stats["n_trials"] = K
		stats["n_timepoints"] = T
		stats["n_channels"] = N
		stats["knots_per_trial"] = P
		stats["iterations"] = len(s.lossHist) - 1
		stats["loss"] = s.lossHist[len(s.lossHist)-1]
		stats["initial_loss"] = s.lossHist[0]
	}
	return stats
}
