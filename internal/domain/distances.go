package domain

// KmPerMile converts between the metric feed units and the imperial
// units runners actually talk in.
const KmPerMile = 1.60934

// StandardDistance is one of the fixed race distances used for best-effort
// bucketing and equivalent-time reporting.
type StandardDistance struct {
	Label string
	Km    float64
}

// StandardDistances lists the supported race distances in ascending order.
var StandardDistances = []StandardDistance{
	{Label: "1 Mile", Km: 1.60934},
	{Label: "5K", Km: 5.0},
	{Label: "10K", Km: 10.0},
	{Label: "15K", Km: 15.0},
	{Label: "Half Marathon", Km: 21.0975},
	{Label: "Marathon", Km: 42.195},
	{Label: "50K", Km: 50.0},
}
