package capital

import "fmt"

// Violation is one failed capital invariant. Violations signal an upstream
// bug (typically a caller bypassing CheckCapitalAvailability) and are
// reported loudly but never crash the process.
type Violation struct {
	Check  string
	Detail string
}

// AssertCapitalInvariants re-derives every capital invariant from current
// state and returns the violations found. Each violation is also logged as
// an error. A small tolerance absorbs float rounding at the boundaries.
func (m *Manager) AssertCapitalInvariants() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.violationsLocked()
}

func (m *Manager) checkInvariantsLocked() {
	m.violationsLocked()
}

func (m *Manager) violationsLocked() []Violation {
	tol := m.params.InvariantTolerance
	var violations []Violation

	if m.state.DeployedPct > m.state.DynamicDeployCapPct+tol {
		violations = append(violations, Violation{
			Check: "deployed_exceeds_cap",
			Detail: fmt.Sprintf("deployed %.4f > cap %.4f",
				m.state.DeployedPct, m.state.DynamicDeployCapPct),
		})
	}

	if 1-m.state.DeployedPct < m.params.HardReservePct-tol {
		violations = append(violations, Violation{
			Check: "reserve_breached",
			Detail: fmt.Sprintf("free %.4f < reserve %.4f",
				1-m.state.DeployedPct, m.params.HardReservePct),
		})
	}

	if m.state.EquityUSD.IsPositive() {
		for pool, usd := range m.poolDeployments {
			poolPct := usd.Div(m.state.EquityUSD).InexactFloat64()
			if poolPct > m.state.PerPoolMaxPct+tol {
				violations = append(violations, Violation{
					Check: "pool_cap_exceeded",
					Detail: fmt.Sprintf("pool %s at %.4f > cap %.4f",
						pool, poolPct, m.state.PerPoolMaxPct),
				})
			}
		}
	}

	if m.state.DynamicDeployCapPct > 1-m.params.HardReservePct+tol {
		violations = append(violations, Violation{
			Check: "cap_exceeds_reserve_limit",
			Detail: fmt.Sprintf("cap %.4f > limit %.4f",
				m.state.DynamicDeployCapPct, 1-m.params.HardReservePct),
		})
	}

	for _, v := range violations {
		m.logger.Error("Capital invariant violated", "check", v.Check, "detail", v.Detail)
	}
	return violations
}
