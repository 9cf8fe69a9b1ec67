package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pipesight/pipesight/pkg/numeric"
)

// Default estimator implementations. They are deliberately simple and
// fully deterministic: a standard scaler, Lloyd's k-means with
// spread-based seeding, and an anomaly score defined as the negative
// distance to the nearest centroid. Anything fancier plugs in through
// the fitter interfaces.

const (
	defaultClusters   = 3
	defaultKMeansIter = 50
)

// StandardScaler normalizes each feature to zero mean and unit
// variance. A constant feature maps to zero.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func (s *StandardScaler) Transform(vector []float64) ([]float64, error) {
	if len(vector) != len(s.Mean) {
		return nil, fmt.Errorf("vector has %d features, scaler was fitted on %d", len(vector), len(s.Mean))
	}

	normalized := make([]float64, len(vector))
	for i, value := range vector {
		if s.Std[i] > 0 {
			normalized[i] = (value - s.Mean[i]) / s.Std[i]
		}
	}

	return normalized, nil
}

type StandardScalerFitter struct{}

func (StandardScalerFitter) Fit(matrix [][]float64) (Transformer, error) {
	if len(matrix) == 0 {
		return nil, errors.New("cannot fit scaler on empty matrix")
	}

	nFeatures := len(matrix[0])
	scaler := &StandardScaler{
		Mean: make([]float64, nFeatures),
		Std:  make([]float64, nFeatures),
	}

	column := make([]float64, len(matrix))
	for i := 0; i < nFeatures; i++ {
		for j, row := range matrix {
			column[j] = row[i]
		}
		scaler.Mean[i] = numeric.Mean(column)
		scaler.Std[i] = numeric.Std(column)
	}

	return scaler, nil
}

// KMeans assigns vectors to the nearest of its fitted centroids.
type KMeans struct {
	Centroids [][]float64 `json:"centroids"`
}

func (k *KMeans) Assign(vector []float64) (int, error) {
	if len(k.Centroids) == 0 {
		return 0, errors.New("kmeans model has no centroids")
	}

	best := 0
	bestDist := math.Inf(1)
	for i, centroid := range k.Centroids {
		if d := squaredDistance(vector, centroid); d < bestDist {
			bestDist = d
			best = i
		}
	}

	return best, nil
}

type KMeansFitter struct {
	Clusters int
	MaxIter  int
}

//nolint:cyclop
func (f KMeansFitter) Fit(matrix [][]float64) (Clusterer, error) {
	if len(matrix) == 0 {
		return nil, errors.New("cannot fit kmeans on empty matrix")
	}

	clusters := f.Clusters
	if clusters <= 0 {
		clusters = defaultClusters
	}
	if clusters > len(matrix) {
		clusters = len(matrix)
	}

	maxIter := f.MaxIter
	if maxIter <= 0 {
		maxIter = defaultKMeansIter
	}

	centroids := seedCentroids(matrix, clusters)
	assignments := make([]int, len(matrix))

	for iter := 0; iter < maxIter; iter++ {
		moved := false
		for i, row := range matrix {
			best := 0
			bestDist := math.Inf(1)
			for c, centroid := range centroids {
				if d := squaredDistance(row, centroid); d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				moved = true
			}
		}

		if !moved && iter > 0 {
			break
		}

		counts := make([]int, len(centroids))
		next := make([][]float64, len(centroids))
		for c := range next {
			next[c] = make([]float64, len(matrix[0]))
		}
		for i, row := range matrix {
			c := assignments[i]
			counts[c]++
			for j, value := range row {
				next[c][j] += value
			}
		}
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster keeps its old centroid.
				next[c] = centroids[c]

				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
		}
		centroids = next
	}

	return &KMeans{Centroids: centroids}, nil
}

// seedCentroids picks evenly spread rows after sorting by vector norm,
// which keeps fitting deterministic across runs.
func seedCentroids(matrix [][]float64, clusters int) [][]float64 {
	order := make([]int, len(matrix))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		na, nb := norm(matrix[order[a]]), norm(matrix[order[b]])
		if na != nb {
			return na < nb
		}

		return order[a] < order[b]
	})

	centroids := make([][]float64, clusters)
	step := float64(len(matrix)-1) / float64(clusters)
	for c := 0; c < clusters; c++ {
		row := matrix[order[int(float64(c)*step)]]
		centroids[c] = append([]float64(nil), row...)
	}

	return centroids
}

// NearestCentroidScorer scores a vector as the negative Euclidean
// distance to the closest fitted centroid, so lower means more
// anomalous.
type NearestCentroidScorer struct {
	Centroids [][]float64 `json:"centroids"`
}

func (s *NearestCentroidScorer) Score(vector []float64) (float64, error) {
	if len(s.Centroids) == 0 {
		return 0, errors.New("scorer has no centroids")
	}

	bestDist := math.Inf(1)
	for _, centroid := range s.Centroids {
		if d := squaredDistance(vector, centroid); d < bestDist {
			bestDist = d
		}
	}

	return -math.Sqrt(bestDist), nil
}

type NearestCentroidScorerFitter struct {
	Clusters int
	MaxIter  int
}

func (f NearestCentroidScorerFitter) Fit(matrix [][]float64) (AnomalyScorer, error) {
	clusterer, err := KMeansFitter{Clusters: f.Clusters, MaxIter: f.MaxIter}.Fit(matrix)
	if err != nil {
		return nil, err
	}

	kmeans, ok := clusterer.(*KMeans)
	if !ok {
		return nil, errors.New("unexpected clusterer implementation")
	}

	return &NearestCentroidScorer{Centroids: kmeans.Centroids}, nil
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}

func norm(vector []float64) float64 {
	return math.Sqrt(squaredDistance(vector, make([]float64, len(vector))))
}
