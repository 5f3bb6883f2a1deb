package processor

import (
	"fmt"
	"math"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/stacomp/utils"
)

// SpectralIndex is a compiled band-math expression.
type SpectralIndex struct {
	Name  string
	expr  *goeval.EvaluableExpression
	bands []string
}

// ParseSpectralIndex compiles cfg and checks that every variable of the
// expression names a band in available.
func ParseSpectralIndex(cfg *utils.SpectralIndexConfig, available []string) (*SpectralIndex, error) {
	expr, err := goeval.NewEvaluableExpression(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("spectral index %s: %v", cfg.Name, err)
	}

	validVariables := make(map[string]struct{}, len(available))
	for _, b := range available {
		validVariables[b] = struct{}{}
	}
	seen := map[string]struct{}{}
	var bands []string
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
		}
		if _, found := validVariables[varName]; !found {
			return nil, fmt.Errorf("spectral index %s needs band %s, which is not loaded", cfg.Name, varName)
		}
		if _, dup := seen[varName]; !dup {
			seen[varName] = struct{}{}
			bands = append(bands, varName)
		}
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("spectral index %s does not reference any band", cfg.Name)
	}
	return &SpectralIndex{Name: cfg.Name, expr: expr, bands: bands}, nil
}

// Compute evaluates the index for every pixel of every time step. Any
// NaN input yields NaN.
func (si *SpectralIndex) Compute(ds *utils.Dataset) (*utils.Variable, error) {
	size := ds.GeoBox.Width * ds.GeoBox.Height
	out := &utils.Variable{Name: si.Name, Data: make([][]float32, ds.NumTimes()), Attrs: map[string]interface{}{}}
	params := make(map[string]interface{}, len(si.bands))

	for t := 0; t < ds.NumTimes(); t++ {
		data := utils.NaNSlice(size)
	pixels:
		for px := 0; px < size; px++ {
			for _, b := range si.bands {
				v := ds.Vars[b].Data[t][px]
				if utils.IsNaN32(v) {
					continue pixels
				}
				params[b] = float64(v)
			}
			result, err := si.expr.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("spectral index %s: %v", si.Name, err)
			}
			val, ok := result.(float64)
			if !ok {
				return nil, fmt.Errorf("spectral index %s: result '%v' is not numeric", si.Name, result)
			}
			if math.IsInf(val, 0) {
				continue
			}
			data[px] = float32(val)
		}
		out.Data[t] = data
	}
	return out, nil
}

// CalculateIndices adds one band per named index from cfg.
func CalculateIndices(ds *utils.Dataset, names []string, cfg *utils.Config) error {
	for _, name := range names {
		idxCfg, ok := cfg.SpectralIndex(name)
		if !ok {
			return fmt.Errorf("unknown spectral index %s", name)
		}
		si, err := ParseSpectralIndex(idxCfg, ds.Order)
		if err != nil {
			return err
		}
		v, err := si.Compute(ds)
		if err != nil {
			return err
		}
		v.Name = idxCfg.Name
		if idxCfg.Description != "" {
			v.Attrs["long_name"] = idxCfg.Description
		}
		if err := ds.AddVariable(v); err != nil {
			return err
		}
	}
	return nil
}
