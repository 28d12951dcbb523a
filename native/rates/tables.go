package rates

// borrowLimitAdjustments maps a credit score to the fraction, in basis
// points, of the borrower's nominal limit that is actually available:
// floor(10000 * (score/255)^(3/4)). The curve is flattened into a fixed
// table so the step function is auditable and free of runtime floating
// point; the companion test pins the published breakpoints.
var borrowLimitAdjustments = [256]uint64{
	0, 156, 263, 357, 443, 523, 600, 674,
	745, 814, 881, 946, 1010, 1072, 1134, 1194,
	1253, 1311, 1369, 1426, 1482, 1537, 1591, 1645,
	1699, 1752, 1804, 1856, 1907, 1958, 2008, 2058,
	2108, 2157, 2206, 2254, 2303, 2350, 2398, 2445,
	2492, 2539, 2585, 2631, 2677, 2722, 2767, 2812,
	2857, 2902, 2946, 2990, 3034, 3078, 3121, 3164,
	3208, 3250, 3293, 3336, 3378, 3420, 3462, 3504,
	3545, 3587, 3628, 3669, 3710, 3751, 3792, 3832,
	3873, 3913, 3953, 3993, 4033, 4073, 4113, 4152,
	4191, 4231, 4270, 4309, 4348, 4386, 4425, 4464,
	4502, 4540, 4579, 4617, 4655, 4693, 4730, 4768,
	4806, 4843, 4881, 4918, 4955, 4992, 5029, 5066,
	5103, 5140, 5176, 5213, 5250, 5286, 5322, 5359,
	5395, 5431, 5467, 5503, 5539, 5574, 5610, 5646,
	5681, 5717, 5752, 5787, 5823, 5858, 5893, 5928,
	5963, 5998, 6033, 6068, 6102, 6137, 6171, 6206,
	6240, 6275, 6309, 6343, 6378, 6412, 6446, 6480,
	6514, 6548, 6582, 6615, 6649, 6683, 6716, 6750,
	6783, 6817, 6850, 6884, 6917, 6950, 6983, 7016,
	7049, 7082, 7115, 7148, 7181, 7214, 7247, 7280,
	7312, 7345, 7377, 7410, 7442, 7475, 7507, 7540,
	7572, 7604, 7636, 7668, 7701, 7733, 7765, 7797,
	7829, 7860, 7892, 7924, 7956, 7988, 8019, 8051,
	8082, 8114, 8146, 8177, 8208, 8240, 8271, 8302,
	8334, 8365, 8396, 8427, 8458, 8490, 8521, 8552,
	8583, 8613, 8644, 8675, 8706, 8737, 8768, 8798,
	8829, 8860, 8890, 8921, 8951, 8982, 9012, 9043,
	9073, 9103, 9134, 9164, 9194, 9225, 9255, 9285,
	9315, 9345, 9375, 9405, 9435, 9465, 9495, 9525,
	9555, 9585, 9615, 9644, 9674, 9704, 9734, 9763,
	9793, 9823, 9852, 9882, 9911, 9941, 9970, 10000,
}

// BorrowLimitAdjustment returns the borrow-limit fraction for a score in
// basis points: 0 at score 0, 10000 (100%) at score 255.
func BorrowLimitAdjustment(score uint8) uint64 {
	return borrowLimitAdjustments[score]
}

// CreditScoreAdjustmentRate returns the additive borrow-rate premium for a
// score in basis points. It is the mirror of the borrow-limit table: the
// cheapest score 255 pays no premium, score 0 pays the full 10000.
func CreditScoreAdjustmentRate(score uint8) uint64 {
	return BasisPoints - borrowLimitAdjustments[score]
}
