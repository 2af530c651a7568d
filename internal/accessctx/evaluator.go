package accessctx

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"time"
)

// geoLookupTimeout caps the external GeoIP call so context building never blocks a
// request on a slow collaborator. A timeout degrades to no geolocation, not a failure.
const geoLookupTimeout = 2 * time.Second

// GeoLookup resolves a client IP to a coarse location. Implemented by the external
// GeoIP collaborator; may return (nil, nil) when the address is unmapped.
type GeoLookup interface {
	Lookup(ctx context.Context, ip net.IP) (*GeoLocation, error)
}

// Evaluator classifies client networks and derives risk signals.
type Evaluator struct {
	corporateNets []*net.IPNet
	vpnIPs        map[string]struct{}
	geo           GeoLookup
	maxKmPerMin   float64
	nowF          func() time.Time
}

// NewEvaluator returns an Evaluator. corporateCIDRs must be valid CIDR strings
// (validated by config). geo may be nil when no GeoIP collaborator is configured.
// maxKmPerMin is the impossible-travel speed threshold; <=0 falls back to 15.
func NewEvaluator(corporateCIDRs, vpnEgressIPs []string, geo GeoLookup, maxKmPerMin float64) *Evaluator {
	nets := make([]*net.IPNet, 0, len(corporateCIDRs))
	for _, c := range corporateCIDRs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, n)
		}
	}
	vpn := make(map[string]struct{}, len(vpnEgressIPs))
	for _, ip := range vpnEgressIPs {
		if p := net.ParseIP(ip); p != nil {
			vpn[p.String()] = struct{}{}
		}
	}
	if maxKmPerMin <= 0 {
		maxKmPerMin = 15
	}
	return &Evaluator{
		corporateNets: nets,
		vpnIPs:        vpn,
		geo:           geo,
		maxKmPerMin:   maxKmPerMin,
		nowF:          func() time.Time { return time.Now().UTC() },
	}
}

// BuildContext classifies the client network and resolves geolocation for one request.
// Geolocation failures are tolerated: the context is returned with GeoLocation nil.
func (e *Evaluator) BuildContext(ctx context.Context, clientIP net.IP, userAgent, sessionID string) *AccessContext {
	ac := &AccessContext{
		ClientIP:     clientIP,
		NetworkType:  e.classifyNetwork(clientIP),
		TimeOfAccess: e.nowF(),
		SessionID:    sessionID,
		UserAgent:    userAgent,
	}
	if e.geo != nil && clientIP != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, geoLookupTimeout)
		defer cancel()
		loc, err := e.geo.Lookup(lookupCtx, clientIP)
		if err != nil {
			log.Printf("accessctx: geo lookup failed for %s: %v", clientIP, err)
		} else {
			ac.GeoLocation = loc
		}
	}
	return ac
}

// classifyNetwork checks corporate CIDRs first, then known VPN egress addresses,
// then RFC1918-style private ranges (home), else unknown.
func (e *Evaluator) classifyNetwork(ip net.IP) NetworkType {
	if ip == nil {
		return NetworkUnknown
	}
	for _, n := range e.corporateNets {
		if n.Contains(ip) {
			return NetworkCorporate
		}
	}
	if _, ok := e.vpnIPs[ip.String()]; ok {
		return NetworkVPN
	}
	if ip.IsPrivate() {
		return NetworkHome
	}
	return NetworkUnknown
}

// Evaluate derives risk signals for the given context against the user's history.
// Pure apart from the clock: identical inputs yield identical signals.
func (e *Evaluator) Evaluate(deviceID, deviceName string, ac *AccessContext, history *UserHistory) []RiskSignal {
	var signals []RiskSignal
	if s := e.checkImpossibleTravel(ac, history); s != nil {
		signals = append(signals, *s)
	}
	if s := e.checkNewDevice(deviceID, deviceName, history); s != nil {
		signals = append(signals, *s)
	}
	if s := e.checkNewLocation(ac, history); s != nil {
		signals = append(signals, *s)
	}
	if s := e.checkUnusualTime(ac, history); s != nil {
		signals = append(signals, *s)
	}
	return signals
}

// checkImpossibleTravel fires when the great-circle distance from the last known
// location exceeds elapsed minutes times the configured max speed. Zero elapsed time
// with nonzero distance always fires.
func (e *Evaluator) checkImpossibleTravel(ac *AccessContext, history *UserHistory) *RiskSignal {
	if history == nil || history.LastLocation == nil || ac.GeoLocation == nil {
		return nil
	}
	distance := haversineKm(
		history.LastLocation.Latitude, history.LastLocation.Longitude,
		ac.GeoLocation.Latitude, ac.GeoLocation.Longitude,
	)
	elapsedMin := ac.TimeOfAccess.Sub(history.LastAccess).Minutes()
	if elapsedMin < 0 {
		elapsedMin = 0
	}
	if distance > elapsedMin*e.maxKmPerMin {
		return &RiskSignal{
			Type:        SignalImpossibleTravel,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("travel of %.0f km in %.0f minutes is impossible", distance, elapsedMin),
			DetectedAt:  e.nowF(),
		}
	}
	return nil
}

func (e *Evaluator) checkNewDevice(deviceID, deviceName string, history *UserHistory) *RiskSignal {
	if history.KnowsDevice(deviceID) {
		return nil
	}
	return &RiskSignal{
		Type:        SignalNewDevice,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("access from new device: %s", deviceName),
		DetectedAt:  e.nowF(),
	}
}

func (e *Evaluator) checkNewLocation(ac *AccessContext, history *UserHistory) *RiskSignal {
	if ac.GeoLocation == nil || history.KnowsCountry(ac.GeoLocation.Country) {
		return nil
	}
	return &RiskSignal{
		Type:        SignalNewLocation,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("access from new country: %s", ac.GeoLocation.Country),
		DetectedAt:  e.nowF(),
	}
}

func (e *Evaluator) checkUnusualTime(ac *AccessContext, history *UserHistory) *RiskSignal {
	if history == nil || history.TypicalHours == nil {
		return nil
	}
	hour := ac.TimeOfAccess.Hour()
	w := history.TypicalHours
	if hour >= w.Start && hour <= w.End {
		return nil
	}
	return &RiskSignal{
		Type:        SignalUnusualTime,
		Severity:    SeverityLow,
		Description: fmt.Sprintf("access at unusual hour: %d", hour),
		DetectedAt:  e.nowF(),
	}
}

// haversineKm returns the great-circle distance between two coordinates in kilometers.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Asin(math.Sqrt(a))
}
