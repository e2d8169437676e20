package gsc

import "sort"

// Opportunity is a query ranking close enough to page one that better
// content or CTR work could move the needle.
type Opportunity struct {
	Query       string
	Page        string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
	Potential   float64
}

// OpportunityFilter bounds which rows count as an opportunity. The position
// band excludes queries that already rank at the top.
type OpportunityFilter struct {
	MinImpressions float64
	MinPosition    float64
	MaxPosition    float64
}

// DefaultOpportunityFilter matches queries on page one or two with real
// impression volume, excluding the top three spots.
func DefaultOpportunityFilter() OpportunityFilter {
	return OpportunityFilter{
		MinImpressions: 100,
		MinPosition:    4,
		MaxPosition:    20,
	}
}

// FindOpportunities scores query+page rows by unrealized traffic and returns
// them sorted best first. Potential weighs impression volume not yet
// converted to clicks, discounted by how far down the result ranks.
func FindOpportunities(rows []Row, filter OpportunityFilter) []Opportunity {
	var opportunities []Opportunity
	for _, row := range rows {
		if row.Position < filter.MinPosition || row.Position > filter.MaxPosition {
			continue
		}
		if row.Impressions < filter.MinImpressions {
			continue
		}

		opp := Opportunity{
			Clicks:      row.Clicks,
			Impressions: row.Impressions,
			CTR:         row.CTR,
			Position:    row.Position,
			Potential:   row.Impressions * (1 - row.CTR) / row.Position,
		}
		if len(row.Keys) > 0 {
			opp.Query = row.Keys[0]
		}
		if len(row.Keys) > 1 {
			opp.Page = row.Keys[1]
		}
		opportunities = append(opportunities, opp)
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].Potential > opportunities[j].Potential
	})
	return opportunities
}

// TotalClicks sums clicks over a row set, for share-of-traffic columns.
func TotalClicks(rows []Row) float64 {
	var total float64
	for _, row := range rows {
		total += row.Clicks
	}
	return total
}
