package model

import (
	"errors"
	"testing"
)

func TestValidateSpec(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "valid",
			spec: Spec{
				Predictors:      []PredictorSpec{{Name: "x", Family: "exp"}},
				GroupingFactors: []string{"subject"},
			},
		},
		{
			name:    "no predictors",
			spec:    Spec{},
			wantErr: true,
		},
		{
			name: "unknown family",
			spec: Spec{
				Predictors: []PredictorSpec{{Name: "x", Family: "sinc"}},
			},
			wantErr: true,
		},
		{
			name: "duplicate predictor",
			spec: Spec{
				Predictors: []PredictorSpec{
					{Name: "x", Family: "exp"},
					{Name: "x", Family: "gamma"},
				},
			},
			wantErr: true,
		},
		{
			name: "bad init length",
			spec: Spec{
				Predictors: []PredictorSpec{{Name: "x", Family: "gamma", ParamInit: []float64{1}}},
			},
			wantErr: true,
		},
		{
			name: "unresolved coef group",
			spec: Spec{
				Predictors: []PredictorSpec{{Name: "x", Family: "exp", CoefGroups: []string{"item"}}},
			},
			wantErr: true,
		},
		{
			name: "unresolved intercept group",
			spec: Spec{
				Predictors:      []PredictorSpec{{Name: "x", Family: "exp"}},
				InterceptGroups: []string{"item"},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSpec(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidSpec) {
					t.Fatalf("error %v is not ErrInvalidSpec", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
