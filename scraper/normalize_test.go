package scraper

import (
	"net/url"
	"testing"
)

func TestParseTitle(t *testing.T) {
	tests := []struct {
		title     string
		wantYear  int
		wantBrand string
		wantModel string
		wantErr   bool
	}{
		{"2018 Honda Civic LX", 2018, "Honda", "Civic LX", false},
		{"Clean title! 2015 Toyota Camry SE", 2015, "Toyota", "Camry SE", false},
		{"Land Rover Discovery 2019", 2019, "Land Rover", "Discovery", false},
		{"Honda Civic 2018 LX", 2018, "Honda", "Civic LX", false},
		{"Honda Civic 2018", 2018, "Honda", "Civic", false},
		{"2020 Alfa Romeo Giulia", 2020, "Alfa Romeo", "Giulia", false},
		{"SUV Deal!!", 0, "", "", true},
		{"2017", 0, "", "", true},
		{"2016 Ford", 0, "", "", true},
		{"Call 555-1234 great car", 0, "", "", true},
	}

	for _, tt := range tests {
		year, brand, model, err := ParseTitle(tt.title)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTitle(%q) = %d %q %q; want error", tt.title, year, brand, model)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTitle(%q) unexpected error: %v", tt.title, err)
			continue
		}
		if year != tt.wantYear || brand != tt.wantBrand || model != tt.wantModel {
			t.Errorf("ParseTitle(%q) = %d %q %q; want %d %q %q",
				tt.title, year, brand, model, tt.wantYear, tt.wantBrand, tt.wantModel)
		}
	}
}

func TestNormalizeTransmission(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Automatic", "Automatic"},
		{"6-Speed Auto", "Automatic"},
		{"AUTOMATIC TRANSMISSION", "Automatic"},
		{"5 speed manual", "Manual"},
		{"Standard", "Manual"},
		{"CVT w/ OD", "CVT"},
		{"Continuously Variable", "CVT"},
		{"Tiptronic", "Tiptronic"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTransmission(tt.raw); got != tt.want {
			t.Errorf("NormalizeTransmission(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"$12,500", 12500},
		{"12.500 km", 12500},
		{"$3,999.00", 3999},
		{"85000", 85000},
		{"Price on request", 0},
		{"", 0},
		{"$ 7,450 OBO", 7450},
	}

	for _, tt := range tests {
		if got := ParseAmount(tt.raw); got != tt.want {
			t.Errorf("ParseAmount(%q) = %d; want %d", tt.raw, got, tt.want)
		}
	}
}

func TestResolveImageURL(t *testing.T) {
	base, _ := url.Parse("https://dealer.example/inventory?page=2")

	tests := []struct {
		raw  string
		want string
	}{
		{"/photos/car1.jpg", "https://dealer.example/photos/car1.jpg"},
		{"photos/car2.jpg", "https://dealer.example/photos/car2.jpg"},
		{"https://cdn.example/car3.jpg", "https://cdn.example/car3.jpg"},
		{"/img/loading-spinner.gif", ""},
		{"/img/no-image.png", ""},
		{"data:image/gif;base64,R0lGOD", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ResolveImageURL(base, tt.raw); got != tt.want {
			t.Errorf("ResolveImageURL(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDeriveExternalIDStable(t *testing.T) {
	a := DeriveExternalID("https://dealer.example/car?vehicle=77")
	b := DeriveExternalID("https://dealer.example/car?vehicle=77")
	c := DeriveExternalID("https://dealer.example/car?vehicle=78")

	if a != b {
		t.Errorf("same input produced different IDs: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different inputs produced the same ID: %q", a)
	}
	if len(a) != 8 {
		t.Errorf("expected 8-char truncated ID, got %q", a)
	}
}
