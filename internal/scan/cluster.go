package scan

import (
	"sort"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

var lensOrder = map[pulse.Lens]int{
	pulse.LensHeadlines:    0,
	pulse.LensEvents:       1,
	pulse.LensTech:         2,
	pulse.LensWeather:      3,
	pulse.LensConversation: 4,
}

// BuildClusters groups items by (Region, Lens). Clusters are ordered by
// region name, then by lens; items keep their incoming order.
func BuildClusters(items []pulse.NormalizedItem) []pulse.Cluster {
	type key struct {
		region string
		lens   pulse.Lens
	}
	index := make(map[key]int)
	var clusters []pulse.Cluster
	for _, item := range items {
		k := key{region: item.Region, lens: item.Lens}
		i, ok := index[k]
		if !ok {
			i = len(clusters)
			index[k] = i
			clusters = append(clusters, pulse.Cluster{Region: item.Region, Lens: item.Lens})
		}
		clusters[i].Items = append(clusters[i].Items, item)
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Region != clusters[j].Region {
			return clusters[i].Region < clusters[j].Region
		}
		return lensOrder[clusters[i].Lens] < lensOrder[clusters[j].Lens]
	})
	return clusters
}
